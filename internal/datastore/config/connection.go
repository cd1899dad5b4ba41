package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	apperrors "docgateway/internal/shared/errors"
)

const (
	DefaultScheme = "mongodb"
	DefaultHost   = "localhost"
	DefaultPort   = 27017
)

// Host is one member of a replica set seed list.
type Host struct {
	Host string
	Port int
}

func (h Host) String() string {
	return h.Host + ":" + strconv.Itoa(h.Port)
}

// Credentials authenticate against Source (the database when empty).
type Credentials struct {
	User   string
	Pass   string
	Source string
}

// Option is a single driver option. Order is preserved.
type Option struct {
	Key   string
	Value string
}

// defaultDriverOptions are merged under every configuration.
var defaultDriverOptions = []Option{
	{Key: "w", Value: "1"},
	{Key: "journal", Value: "true"},
	{Key: "retryWrites", Value: "true"},
	{Key: "retryReads", Value: "true"},
}

// ConnectionConfig is an immutable description of how to reach one database.
type ConnectionConfig struct {
	scheme      string
	hosts       []Host
	database    string
	credentials *Credentials
	options     []Option
}

// NewConnectionConfig builds a config from loose host and port inputs.
// hosts and ports accept a single value or a comma separated list; a single port
// applies to every host. Empty values default to localhost:27017.
func NewConnectionConfig(hosts, ports, database string, creds *Credentials, opts []Option) (*ConnectionConfig, error) {
	if strings.TrimSpace(database) == "" {
		return nil, apperrors.NewTranslationError("database name is required")
	}

	hostList := splitList(hosts)
	if len(hostList) == 0 {
		hostList = []string{DefaultHost}
	}
	portList := splitList(ports)
	if len(portList) == 0 {
		portList = []string{strconv.Itoa(DefaultPort)}
	}
	if len(portList) != 1 && len(portList) != len(hostList) {
		return nil, apperrors.NewTranslationError(
			fmt.Sprintf("%d ports given for %d hosts", len(portList), len(hostList)))
	}

	seeds := make([]Host, 0, len(hostList))
	for i, h := range hostList {
		p := portList[0]
		if len(portList) > 1 {
			p = portList[i]
		}
		port, err := parsePort(p)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, Host{Host: h, Port: port})
	}

	var credsCopy *Credentials
	if creds != nil {
		c := *creds
		if c.Source == "" {
			c.Source = database
		}
		credsCopy = &c
	}

	return &ConnectionConfig{
		scheme:      DefaultScheme,
		hosts:       seeds,
		database:    database,
		credentials: credsCopy,
		options:     mergeOptions(opts),
	}, nil
}

// ParseConnectionURL parses scheme://[user:pass@]host1[:port1][,host2[:port2]]/database[?opt=val[,opt=val]].
// Credentials are mandatory unless localMode is set.
func ParseConnectionURL(raw string, localMode bool) (*ConnectionConfig, error) {
	schemeIdx := strings.Index(raw, "://")
	if schemeIdx <= 0 {
		return nil, apperrors.NewTranslationError("connection url has no scheme")
	}
	scheme := raw[:schemeIdx]
	rest := raw[schemeIdx+3:]

	hostsPathOpts := rest
	var creds *Credentials
	// userinfo ends at the last '@' before the options, so raw '/' and '@'
	// in a password stay in the password.
	beforeOpts, _, _ := strings.Cut(rest, "?")
	if at := strings.LastIndex(beforeOpts, "@"); at >= 0 {
		auth := rest[:at]
		hostsPathOpts = rest[at+1:]
		user, pass, _ := strings.Cut(auth, ":")
		user, _ = url.QueryUnescape(user)
		pass, _ = url.QueryUnescape(pass)
		creds = &Credentials{User: user, Pass: pass}
	}

	hostsPath, rawOpts, _ := strings.Cut(hostsPathOpts, "?")
	hostPart, database, _ := strings.Cut(hostsPath, "/")
	if database == "" {
		return nil, apperrors.NewTranslationError("connection url has no database")
	}
	if hostPart == "" {
		return nil, apperrors.NewTranslationError("connection url has no hosts")
	}
	if !localMode && (creds == nil || creds.User == "" || creds.Pass == "") {
		return nil, apperrors.NewTranslationError("connection url requires user and password")
	}
	if creds != nil && creds.User == "" && creds.Pass == "" {
		creds = nil
	}
	if creds != nil {
		creds.Source = database
	}

	seeds := make([]Host, 0)
	for _, entry := range strings.Split(hostPart, ",") {
		name, portStr, hasPort := strings.Cut(entry, ":")
		if name == "" {
			return nil, apperrors.NewTranslationError("connection url has an empty host")
		}
		port := DefaultPort
		if hasPort {
			p, err := parsePort(portStr)
			if err != nil {
				return nil, err
			}
			port = p
		}
		seeds = append(seeds, Host{Host: name, Port: port})
	}

	opts, err := parseOptions(rawOpts)
	if err != nil {
		return nil, err
	}

	return &ConnectionConfig{
		scheme:      scheme,
		hosts:       seeds,
		database:    database,
		credentials: creds,
		options:     mergeOptions(opts),
	}, nil
}

func parseOptions(raw string) ([]Option, error) {
	if raw == "" {
		return nil, nil
	}
	seen := make(map[string]bool)
	pairs := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '&' })
	if len(pairs) == 0 {
		return nil, apperrors.NewTranslationError("connection url has an empty option list")
	}
	opts := make([]Option, 0, len(pairs))
	for _, pair := range pairs {
		parts := strings.Split(pair, "=")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, apperrors.NewTranslationError(fmt.Sprintf("malformed option %q", pair))
		}
		if seen[parts[0]] {
			return nil, apperrors.NewTranslationError(fmt.Sprintf("duplicate option %q", parts[0]))
		}
		seen[parts[0]] = true
		opts = append(opts, Option{Key: parts[0], Value: parts[1]})
	}
	return opts, nil
}

// mergeOptions lays overrides over the defaults. An empty override keeps the default.
func mergeOptions(overrides []Option) []Option {
	merged := make([]Option, len(defaultDriverOptions))
	copy(merged, defaultDriverOptions)

	for _, o := range overrides {
		replaced := false
		for i := range merged {
			if merged[i].Key == o.Key {
				if o.Value != "" {
					merged[i].Value = o.Value
				}
				replaced = true
				break
			}
		}
		if !replaced && o.Value != "" {
			merged = append(merged, o)
		}
	}
	return merged
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port <= 0 || port > 65535 {
		return 0, apperrors.NewTranslationError(fmt.Sprintf("invalid port %q", s))
	}
	return port, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Database returns the database name.
func (c *ConnectionConfig) Database() string { return c.database }

// Hosts returns a copy of the seed list.
func (c *ConnectionConfig) Hosts() []Host {
	out := make([]Host, len(c.hosts))
	copy(out, c.hosts)
	return out
}

// Credentials returns a copy of the credentials, or nil.
func (c *ConnectionConfig) Credentials() *Credentials {
	if c.credentials == nil {
		return nil
	}
	creds := *c.credentials
	return &creds
}

// Options returns the merged driver options in order.
func (c *ConnectionConfig) Options() []Option {
	out := make([]Option, len(c.options))
	copy(out, c.options)
	return out
}

// Option looks up a driver option by key.
func (c *ConnectionConfig) Option(key string) (string, bool) {
	for _, o := range c.options {
		if o.Key == key {
			return o.Value, true
		}
	}
	return "", false
}

// WithDatabase returns a copy targeting another database on the same hosts.
// Credentials keep authenticating against their original source.
func (c *ConnectionConfig) WithDatabase(database string) *ConnectionConfig {
	clone := &ConnectionConfig{
		scheme:      c.scheme,
		hosts:       c.Hosts(),
		database:    database,
		credentials: c.Credentials(),
		options:     c.Options(),
	}
	return clone
}

// URI composes the driver connection string.
func (c *ConnectionConfig) URI() string {
	var b strings.Builder
	b.WriteString(c.scheme)
	b.WriteString("://")
	if c.credentials != nil {
		b.WriteString(url.QueryEscape(c.credentials.User))
		b.WriteString(":")
		b.WriteString(url.QueryEscape(c.credentials.Pass))
		b.WriteString("@")
	}
	for i, h := range c.hosts {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(h.String())
	}
	b.WriteString("/")
	b.WriteString(c.database)

	opts := c.options
	if c.credentials != nil && c.credentials.Source != "" && c.credentials.Source != c.database {
		if _, ok := c.Option("authSource"); !ok {
			opts = append(c.Options(), Option{Key: "authSource", Value: c.credentials.Source})
		}
	}
	for i, o := range opts {
		if i == 0 {
			b.WriteString("?")
		} else {
			b.WriteString("&")
		}
		b.WriteString(o.Key)
		b.WriteString("=")
		b.WriteString(o.Value)
	}
	return b.String()
}

// Redacted is URI with the password masked, for logs.
func (c *ConnectionConfig) Redacted() string {
	if c.credentials == nil {
		return c.URI()
	}
	masked := c.WithDatabase(c.database)
	masked.credentials.Pass = "xxxxx"
	return masked.URI()
}
