package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "REPLICATOR_"

func (c *Config) applyEnvOverrides() error {
	if v, ok := getEnvStr("NODE_ID"); ok {
		c.Node.ID = v
	}
	if v, ok := getEnvStr("ROLE"); ok {
		c.Node.Role = strings.ToLower(v)
	}
	if v, ok := getEnvStr("GRPC_ADDR"); ok {
		c.Node.GRPCAddr = v
	}
	if v, ok := getEnvStr("HTTP_ADDR"); ok {
		c.Node.HTTPAddr = v
	}
	if v, ok := getEnvStr("PEERS"); ok {
		peers, err := ParsePeers(v)
		if err != nil {
			return invalid(envPrefix+"PEERS", v, err.Error())
		}
		c.Replication.Peers = peers
	}
	if v, ok := getEnvStr("WRITE_QUORUM"); ok {
		q, err := ParseWriteQuorum(v)
		if err != nil {
			return err
		}
		c.Replication.WriteQuorum = &q
	}
	if v, ok := getEnvStr("VERSIONED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return invalid(envPrefix+"VERSIONED", v, "must be a boolean")
		}
		c.Replication.Versioned = b
	}
	if v, ok := getEnvStr("TRANSPORT"); ok {
		c.Replication.Transport = strings.ToLower(v)
	}
	if v, ok := getEnvStr("DELAY_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return invalid(envPrefix+"DELAY_ENABLED", v, "must be a boolean")
		}
		c.Replication.Delay.Enabled = b
	}
	if v, ok := getEnvStr("SEND_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return invalid(envPrefix+"SEND_TIMEOUT", v, "must be a duration")
		}
		c.Replication.SendTimeout = d
	}
	if v, ok := getEnvStr("LOG_ENV"); ok {
		c.Log.Env = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	return nil
}

func getEnvStr(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	return v, v != ""
}
