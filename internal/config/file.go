package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML config file. Every field maps onto one environment
// variable and is consulted only when that variable is unset.
type fileConfig struct {
	ListenAddr      string   `yaml:"listen_addr"`
	Mode            string   `yaml:"mode"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`

	Log struct {
		Format     string `yaml:"format"`
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  *int   `yaml:"max_size_mb"`
		MaxBackups *int   `yaml:"max_backups"`
	} `yaml:"log"`

	RTC struct {
		DefaultSession     *bool  `yaml:"default_session"`
		Addr               string `yaml:"addr"`
		Endpoint           string `yaml:"endpoint"`
		MessageKind        string `yaml:"message_kind"`
		Debug              *bool  `yaml:"debug"`
		Echo               *bool  `yaml:"echo"`
		SchedulerWorkers   *int   `yaml:"scheduler_workers"`
		NegotiateTimeout   string `yaml:"negotiate_timeout"`
		PeerConnectTimeout string `yaml:"peer_connect_timeout"`
		MaxMessageBytes    *int   `yaml:"max_message_bytes"`
		SCTPReceiveBuffer  *int   `yaml:"sctp_max_receive_buffer_bytes"`
	} `yaml:"rtc"`

	Control struct {
		AuthMode          string `yaml:"auth_mode"`
		APIKey            string `yaml:"api_key"`
		MaxMessageBytes   *int64 `yaml:"max_message_bytes"`
		MessagesPerSecond *int   `yaml:"messages_per_second"`
	} `yaml:"control"`

	Signaling struct {
		MaxMessageBytes *int64 `yaml:"max_message_bytes"`
	} `yaml:"signaling"`
}

func readFile(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file: %w", err)
	}
	return parseFile(data)
}

func parseFile(data []byte) (fileConfig, error) {
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fileConfig{}, fmt.Errorf("parse config file: %w", err)
	}
	return fc, nil
}

// values flattens the file into environment variable keys.
func (fc fileConfig) values() map[string]string {
	out := map[string]string{}
	put := func(key, v string) {
		if strings.TrimSpace(v) != "" {
			out[key] = v
		}
	}
	putInt := func(key string, v *int) {
		if v != nil {
			out[key] = strconv.Itoa(*v)
		}
	}
	putInt64 := func(key string, v *int64) {
		if v != nil {
			out[key] = strconv.FormatInt(*v, 10)
		}
	}
	putBool := func(key string, v *bool) {
		if v != nil {
			out[key] = strconv.FormatBool(*v)
		}
	}

	put(envVarListenAddr, fc.ListenAddr)
	put(envVarMode, fc.Mode)
	put(envVarAllowedOrigins, strings.Join(fc.AllowedOrigins, ","))
	put(envVarShutdownTimeout, fc.ShutdownTimeout)

	put(envVarLogFormat, fc.Log.Format)
	put(envVarLogLevel, fc.Log.Level)
	put(envVarLogFile, fc.Log.File)
	putInt(envVarLogMaxSizeMB, fc.Log.MaxSizeMB)
	putInt(envVarLogMaxBackups, fc.Log.MaxBackups)

	putBool(envVarDefaultSession, fc.RTC.DefaultSession)
	put(envVarRTCAddr, fc.RTC.Addr)
	put(envVarRTCEndpoint, fc.RTC.Endpoint)
	put(envVarMessageKind, fc.RTC.MessageKind)
	putBool(envVarDebug, fc.RTC.Debug)
	putBool(envVarEcho, fc.RTC.Echo)
	putInt(envVarSchedulerWorkers, fc.RTC.SchedulerWorkers)
	put(envVarNegotiateTimeout, fc.RTC.NegotiateTimeout)
	put(envVarPeerConnectTimeout, fc.RTC.PeerConnectTimeout)
	putInt(envVarMaxMessageBytes, fc.RTC.MaxMessageBytes)
	putInt(envVarSCTPReceiveBuffer, fc.RTC.SCTPReceiveBuffer)

	put(envVarAuthMode, fc.Control.AuthMode)
	put(envVarAPIKey, fc.Control.APIKey)
	putInt64(envVarMaxControlMessageBytes, fc.Control.MaxMessageBytes)
	putInt(envVarMaxControlMessagesPerSecond, fc.Control.MessagesPerSecond)

	putInt64(envVarMaxSignalingMessageBytes, fc.Signaling.MaxMessageBytes)
	return out
}
