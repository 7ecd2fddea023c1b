package config

import (
	"errors"
	"flag"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// NetAddress holds structured network address data for host and port.
// It implements the flag.Value interface.
type NetAddress struct {
	Host string
	Port int
}

// ParseFlags parses all configuration flags from os.Args.
//
// Flags:
//
//	-d database DSN
//	-c/-config json file path with configs
//	-redis redis address in format [host]:[port]
//	-keycloak-timeout keycloak request timeout (e.g., "10s")
//	-signature-validity keycloak signature validity window (e.g., "1440h")
//	-pre-key-lifetime pre-key lifetime (e.g., "720h")
//	-backup-password backup encryption password
//	-backup-dir backup output directory
//	-discovery-interval device discovery interval (e.g., "12h")
//	-cleanup run startup cleanup
func ParseFlags() *StructuredConfig {
	return parseFlagSet(flag.NewFlagSet(os.Args[0], flag.ContinueOnError), os.Args[1:])
}

func parseFlagSet(fs *flag.FlagSet, args []string) *StructuredConfig {
	var redisAddress NetAddress
	var databaseDSN string
	var jsonConfigPath string
	var keycloakTimeout time.Duration
	var signatureValidity time.Duration
	var preKeyLifetime time.Duration
	var backupPassword string
	var backupDir string
	var discoveryInterval time.Duration
	var cleanup bool

	fs.StringVar(&databaseDSN, "d", "", "Database DSN")
	fs.StringVar(&jsonConfigPath, "c", "", "JSON config file path")
	fs.StringVar(&jsonConfigPath, "config", "", "JSON config file path (alias)")
	fs.Var(&redisAddress, "redis", "Redis address host:port")
	fs.DurationVar(&keycloakTimeout, "keycloak-timeout", 0, "Keycloak request timeout (e.g., 10s)")
	fs.DurationVar(&signatureValidity, "signature-validity", 0, "Keycloak signature validity window")
	fs.DurationVar(&preKeyLifetime, "pre-key-lifetime", 0, "Pre-key lifetime")
	fs.StringVar(&backupPassword, "backup-password", "", "Backup encryption password")
	fs.StringVar(&backupDir, "backup-dir", "", "Backup output directory")
	fs.DurationVar(&discoveryInterval, "discovery-interval", 0, "Device discovery interval")
	fs.BoolVar(&cleanup, "cleanup", false, "Run startup cleanup")

	// unknown flags are left to the caller
	_ = fs.Parse(args)

	return &StructuredConfig{
		App: App{
			KeycloakSignatureValidity: signatureValidity,
			PreKeyLifetime:            preKeyLifetime,
			BackupPassword:            backupPassword,
		},
		Storage: Storage{
			DB: DB{
				DSN: databaseDSN,
			},
		},
		Adapter: Adapter{
			RedisAddress:           redisAddress.String(),
			KeycloakRequestTimeout: keycloakTimeout,
		},
		Workers: Workers{
			DeviceDiscoveryInterval: discoveryInterval,
			BackupDir:               backupDir,
			CleanupOnStart:          cleanup,
		},
		JSONFilePath: jsonConfigPath,
	}
}

// String returns a canonical host:port string for a NetAddress.
// If neither Host nor Port are set, it returns an empty string.
func (a *NetAddress) String() string {
	if a.Host == "" && a.Port == 0 {
		return ""
	}

	return a.Host + ":" + strconv.Itoa(a.Port)
}

// Set parses the input string of form host:port and populates the NetAddress.
// It validates the port range, checks IP correctness unless host is "localhost",
// and returns an error if the format or values are invalid.
func (a *NetAddress) Set(s string) error {
	hostAndPort := strings.Split(s, ":")
	if len(hostAndPort) != 2 {
		return errors.New("need address in a form `host:port`")
	}

	host := hostAndPort[0]
	port, err := strconv.Atoi(hostAndPort[1])
	if err != nil {
		return err
	}

	if port < 1 {
		return errors.New("port number is a positive integer")
	}

	if host != "localhost" {
		ip := net.ParseIP(hostAndPort[0])
		if ip == nil {
			return errors.New("incorrect IP-address provided")
		}
	}

	a.Host = host
	a.Port = port
	return nil
}
