// Command folio runs the folio server: it synthesizes IIIF manifests from
// BagIt checksum manifests, serves the published manifests, and pushes
// batches of documents to a transcription service.
//
// Configuration is taken from a TOML file named by the --config-file flag.
// An example:
//
//	Manifests = "s3://s3.example.org/folio/manifests"
//	CacheDir = "/var/cache/folio"
//	Port = "15000"
//	Tokenfile = "/etc/folio/tokens"
//	ImageBase = "https://images.example.org/iiif"
//	ManifestBase = "https://manifests.example.org"
//	UploadHost = "https://transcribe.example.org"
//	UploadUser = "folio"
//	UploadPassword = "...."
//	MaxConcurrent = 2
package main

import (
	"crypto/tls"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/certifi/gocertifi"
	raven "github.com/getsentry/raven-go"

	"github.com/libarch/folio/iiif"
	"github.com/libarch/folio/manifests"
	"github.com/libarch/folio/server"
	"github.com/libarch/folio/transcribe"
)

type folioConfig struct {
	Manifests      string
	CacheDir       string
	Port           string
	PProfPort      string
	Tokenfile      string
	Allowlist      []string
	Mysql          string
	ImageBase      string
	ManifestBase   string
	UploadHost     string
	UploadUser     string
	UploadPassword string
	MaxConcurrent  int
	SentryDSN      string
}

func main() {
	var configFile = flag.String("config-file", "", "location of the configuration file")
	flag.Parse()

	var config folioConfig
	if *configFile != "" {
		log.Printf("Reading config file %s", *configFile)
		if _, err := toml.DecodeFile(*configFile, &config); err != nil {
			log.Println(err)
			return
		}
	}

	if config.SentryDSN != "" {
		setupSentry(config.SentryDSN)
	}

	var validator server.TokenDecoder
	if config.Tokenfile != "" {
		var err error
		validator, err = server.NewListDecoderFile(config.Tokenfile)
		if err != nil {
			log.Println(err)
			return
		}
	}

	ms := parselocation(config.Manifests, "")
	if ms == nil {
		log.Println("could not set up the manifest store")
		return
	}

	s := &server.RESTServer{
		PortNumber: config.Port,
		PProfPort:  config.PProfPort,
		Manifests:  manifests.NewStore(ms),
		Source: iiif.Source{
			ImageBase:    config.ImageBase,
			ManifestBase: config.ManifestBase,
		},
		Validator:  validator,
		Allowlist:  config.Allowlist,
		UploadHost: config.UploadHost,
		UploadCredentials: transcribe.Credentials{
			User:     config.UploadUser,
			Password: config.UploadPassword,
		},
		MaxConcurrent: config.MaxConcurrent,
		MySQL:         config.Mysql,
		CacheDir:      config.CacheDir,
	}

	// set up signal handlers
	sig := make(chan os.Signal, 5)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s2 := <-sig
		log.Println("---- received signal", s2)
		s.Stop()
	}()

	err := s.Run()
	if err != nil {
		log.Println(err)
	}
}

// setupSentry points the raven client at our sentry instance. The certifi
// roots are used so error reporting works on hosts with a stale CA bundle.
func setupSentry(dsn string) {
	raven.SetDSN(dsn)
	rootCerts, err := gocertifi.CACerts()
	if err != nil {
		log.Println(err)
		return
	}
	raven.DefaultClient.Transport = &raven.HTTPTransport{
		Client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{RootCAs: rootCerts},
			},
		},
	}
}
