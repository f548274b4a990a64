package server

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strings"
)

// A TokenDecoder validates and decodes user tokens passed into the web API.
// If the given token is not valid, for whatever reason, the user "" with a
// role of RoleUnknown is returned. An error is returned only if there is
// some kind of error doing the lookup and the ultimate status of the token
// is unknown.
type TokenDecoder interface {
	TokenDecode(token string) (user string, role Role, err error)
}

type Role int

const (
	RoleUnknown Role = iota
	RoleRead
	RoleWrite
	RoleAdmin
)

func atoRole(s string) Role {
	switch strings.ToLower(s) {
	case "read":
		return RoleRead
	case "write":
		return RoleWrite
	case "admin":
		return RoleAdmin
	default:
		return RoleUnknown
	}
}

// NewNobodyDecoder creates a TokenDecoder that for every possible token
// returns a user named "nobody" with the Admin role. It is the fallback
// when no token file is configured.
func NewNobodyDecoder() TokenDecoder {
	return new(nobodyDecoder)
}

type nobodyDecoder struct{}

func (nobodyDecoder) TokenDecode(token string) (string, Role, error) {
	return "nobody", RoleAdmin, nil
}

// A ListDecoder is backed by a predefined list of users, which are read
// from r upon creation. The reader r should consist of a sequence of user
// entries, separated by newlines. Each entry has the form:
//
//     <user name>  <role>  <token>
//
// The fields are delineated by whitespace (spaces or tabs). This decoder
// does not permit spaces in either the user name or the token. The role is
// one of "Read", "Write", "Admin" (case insensitive). Empty lines and lines
// beginning with a hash '#' are skipped.
func NewListDecoder(r io.Reader) (TokenDecoder, error) {
	users, err := parseListFile(r)
	if err != nil {
		return nil, err
	}
	sort.Sort(byToken(users))
	return listDecoder{users}, nil
}

// NewListDecoderFile is a convenience function that reads the contents of
// the given file into a ListDecoder. The file should have the same format
// that NewListDecoder expects.
func NewListDecoderFile(fname string) (TokenDecoder, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewListDecoder(f)
}

func parseListFile(r io.Reader) ([]userEntry, error) {
	var result []userEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		// split on whitespace
		pieces := strings.Fields(scanner.Text())
		// skip blank lines or lines beginning with a '#'
		if len(pieces) == 0 || pieces[0][0] == '#' {
			continue
		}
		if len(pieces) != 3 {
			// wrong number of columns
			continue
		}
		result = append(result, userEntry{
			token: pieces[2],
			user:  pieces[0],
			role:  atoRole(pieces[1]),
		})
	}
	return result, scanner.Err()
}

type listDecoder struct {
	data []userEntry
}

type userEntry struct {
	token string
	user  string
	role  Role
}

type byToken []userEntry

func (t byToken) Len() int           { return len(t) }
func (t byToken) Less(i, j int) bool { return t[i].token < t[j].token }
func (t byToken) Swap(i, j int)      { t[i], t[j] = t[j], t[i] }

func (ld listDecoder) TokenDecode(token string) (string, Role, error) {
	i := sort.Search(len(ld.data), func(i int) bool {
		return ld.data[i].token >= token
	})
	if i < len(ld.data) && ld.data[i].token == token {
		return ld.data[i].user, ld.data[i].role, nil
	}
	return "", RoleUnknown, nil
}

// Users returns the user names known to a list decoder, which is how the
// server seeds the batch requester allowlist when no explicit allowlist is
// configured.
func (ld listDecoder) Users() []string {
	var result []string
	seen := make(map[string]bool)
	for _, e := range ld.data {
		if !seen[e.user] {
			seen[e.user] = true
			result = append(result, e.user)
		}
	}
	sort.Strings(result)
	return result
}
