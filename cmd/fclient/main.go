package main

// The fclient tool is the command line interface to a folio server. It is
// meant for operators kicking off manifest generation or upload batches by
// hand and for scripts doing the same.

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
)

// various command line flags, with default values

var (
	server     = flag.String("server", "localhost:15000", "folio server to use")
	token      = flag.String("token", "", "API token")
	collection = flag.String("collection", "", "target collection")
	overwrite  = flag.Bool("overwrite", false, "replace stored manifests instead of merging")
	dryrun     = flag.Bool("dryrun", false, "report changes without saving them")
	wait       = flag.Bool("wait", true, "wait for a submitted batch to finish")
	usage      = `
fclient <flags> <command> <arguments>

Possible commands:

    generate <manifest-md5.txt>
    upload <url list file>
    batch <batch id>
    batches
    manifest <document id>

generate and upload need the -collection flag. The url list file has one
manifest URL per line; blank lines and lines starting with '#' are skipped.
`
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Println(usage)
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "generate":
		if len(args) != 2 || *collection == "" {
			fmt.Println("Usage: fclient -collection <c> generate <manifest-md5.txt>")
			os.Exit(1)
		}
		err = doGenerate(args[1])
	case "upload":
		if len(args) != 2 || *collection == "" {
			fmt.Println("Usage: fclient -collection <c> upload <url list file>")
			os.Exit(1)
		}
		err = doUpload(args[1])
	case "batch":
		if len(args) != 2 {
			fmt.Println("Usage: fclient batch <batch id>")
			os.Exit(1)
		}
		err = printBody("GET", "/batch/"+args[1], nil)
	case "batches":
		err = printBody("GET", "/batches", nil)
	case "manifest":
		if len(args) != 2 {
			fmt.Println("Usage: fclient manifest <document id>")
			os.Exit(1)
		}
		err = printBody("GET", "/manifest/"+args[1], nil)
	default:
		fmt.Println(usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func doGenerate(fname string) error {
	f, err := os.Open(fname)
	if err != nil {
		return err
	}
	defer f.Close()
	route := "/generate/" + *collection
	var params []string
	if *overwrite {
		params = append(params, "overwrite=1")
	}
	if *dryrun {
		params = append(params, "dryrun=1")
	}
	if len(params) > 0 {
		route += "?" + strings.Join(params, "&")
	}
	return printBody("POST", route, f)
}

func doUpload(fname string) error {
	urls, err := readURLList(fname)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return fmt.Errorf("%s has no manifest urls", fname)
	}

	body, err := json.Marshal(map[string]interface{}{
		"collection": *collection,
		"urls":       urls,
	})
	if err != nil {
		return err
	}
	resp, err := request("POST", "/batch", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	v, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		return err
	}
	id, err := v.GetString("id")
	if err != nil {
		return fmt.Errorf("response has no batch id")
	}
	fmt.Fprintln(os.Stderr, "batch", id)
	if !*wait {
		return nil
	}
	return waitForBatch(id)
}

// waitForBatch polls until the batch finishes and then prints its record.
func waitForBatch(id string) error {
	for {
		resp, err := request("GET", "/batch/"+id, nil)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		_, err = buf.ReadFrom(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}
		v, err := jason.NewObjectFromBytes(buf.Bytes())
		if err != nil {
			return err
		}
		status, _ := v.GetString("status")
		if status == "finished" {
			_, err = buf.WriteTo(os.Stdout)
			return err
		}
		time.Sleep(5 * time.Second)
	}
}

func readURLList(fname string) ([]string, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var result []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		result = append(result, line)
	}
	return result, scanner.Err()
}

// printBody performs the request and copies the response to stdout.
func printBody(verb, route string, body io.Reader) error {
	resp, err := request(verb, route, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

func request(verb, route string, body io.Reader) (*http.Response, error) {
	url := *server + route
	if !strings.HasPrefix(url, "http") {
		url = "http://" + url
	}
	req, err := http.NewRequest(verb, url, body)
	if err != nil {
		return nil, err
	}
	if *token != "" {
		req.Header.Set("X-Api-Key", *token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: received status %d", verb, route, resp.StatusCode)
	}
	return resp, nil
}
