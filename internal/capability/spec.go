package capability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/systmms/bootcfg/internal/envaccess"
)

// Spec describes a probe in configuration files.
type Spec struct {
	Type     string `yaml:"type" json:"type"`
	Addr     string `yaml:"addr,omitempty" json:"addr,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`
	Driver   string `yaml:"driver,omitempty" json:"driver,omitempty"`
	DSN      string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	Reason   string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// Build turns a Spec into a Probe. A nil reveal uses passwords as written.
func Build(spec Spec, reveal Revealer) (Probe, error) {
	switch spec.Type {
	case "always":
		return Always(), nil
	case "never":
		reason := spec.Reason
		if reason == "" {
			reason = "disabled by configuration"
		}
		return Never(reason), nil
	case "tcp":
		if spec.Addr == "" {
			return nil, fmt.Errorf("tcp probe requires addr")
		}
		return TCP(spec.Addr), nil
	case "redis":
		if spec.Addr == "" {
			return nil, fmt.Errorf("redis probe requires addr")
		}
		return RedisSecret(spec.Addr, spec.Password, spec.DB, reveal), nil
	case "sql-driver":
		if spec.Driver == "" {
			return nil, fmt.Errorf("sql-driver probe requires driver")
		}
		return SQLDriver(spec.Driver), nil
	case "sql":
		if spec.Driver == "" || spec.DSN == "" {
			return nil, fmt.Errorf("sql probe requires driver and dsn")
		}
		return SQLPing(spec.Driver, spec.DSN), nil
	case "keyring":
		return Keyring(), nil
	default:
		return nil, fmt.Errorf("unknown probe type %q", spec.Type)
	}
}

// probeKind maps a spec type to the kind used for timeout suggestions.
func probeKind(specType string) string {
	switch specType {
	case "sql-driver", "sql":
		return "sql"
	}
	return specType
}

// RegisterSpec builds spec and registers it under name.
func (r *Runtime) RegisterSpec(name string, spec Spec) error {
	p, err := Build(spec, r.reveal)
	if err != nil {
		return fmt.Errorf("capability %s: %w", name, err)
	}
	r.Register(name, probeKind(spec.Type), p)
	return nil
}

// RegisterDefaults registers the probes the built-in provider table refers to,
// addressed from the environment snapshot:
//
//	redis         PING on REDIS_HOST:REDIS_PORT, REDIS_PASSWORD revealed first
//	memcached     TCP connect to any MEMCACHED_SERVER entry (MEMCACHED_PORT
//	              unless the entry carries its own port)
//	sql:postgres  postgres driver linked in
//	sql:mysql     mysql driver linked in
//	keyring       OS keyring answers
func (r *Runtime) RegisterDefaults(acc *envaccess.Accessor) {
	redisAddr := net.JoinHostPort(acc.String("REDIS_HOST", "localhost"), strconv.Itoa(acc.Int("REDIS_PORT", 6379)))
	r.Register("redis", "redis", RedisSecret(redisAddr, acc.String("REDIS_PASSWORD", ""), acc.Int("REDIS_DATABASE", 0), r.reveal))

	port := strconv.Itoa(acc.Int("MEMCACHED_PORT", 11211))
	servers := acc.List("MEMCACHED_SERVER", nil)
	if len(servers) == 0 {
		servers = []string{"127.0.0.1"}
	}
	dials := make([]Probe, 0, len(servers))
	for _, server := range servers {
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(server, port)
		}
		dials = append(dials, TCP(server))
	}
	r.Register("memcached", "tcp", AnyOf(dials...))

	r.Register("sql:postgres", "sql", SQLDriver("postgres"))
	r.Register("sql:mysql", "sql", SQLDriver("mysql"))
	r.Register("keyring", "keyring", Keyring())
}
