package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	curve "gosuda.org/curve"
	"gosuda.org/curve/cryptoops"
	"gosuda.org/curve/handshake"
	"gosuda.org/curve/zap"
)

var rootCmd = &cobra.Command{
	Use:   "curvepair",
	Short: "Run a CURVE client/server pair in-process and exchange a few MESSAGE frames",
	RunE:  runPair,
}

var (
	flagConfigPath string
	flagVerbose    bool
	flagZapMode    string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfigPath, "config", "", "optional YAML config overriding the identity/metadata defaults")
	flags.BoolVar(&flagVerbose, "verbose", false, "enable trace-level handshake logging")
	flags.StringVar(&flagZapMode, "zap", "allow", "ZAP mode for the demo server: allow, deny, or none")
}

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("curvepair: execute root command")
	}
}

// pairConfig is the optional YAML override for a demo run: identity
// metadata each side presents during the handshake.
type pairConfig struct {
	ClientMetadata map[string]string `yaml:"client_metadata"`
	ServerMetadata map[string]string `yaml:"server_metadata"`
}

func loadConfig(path string) (pairConfig, error) {
	var cfg pairConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func runPair(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(flagConfigPath)
	if err != nil {
		return err
	}

	var zapAuth zap.Authenticator
	switch flagZapMode {
	case "allow":
		zapAuth = zap.AllowAll()
	case "deny":
		zapAuth = zap.DenyAll("400", "Unauthorized")
	case "none":
		zapAuth = nil
	default:
		return fmt.Errorf("unknown --zap mode %q", flagZapMode)
	}

	clientCred, err := cryptoops.NewCredential()
	if err != nil {
		return fmt.Errorf("client credential: %w", err)
	}
	serverCred, err := cryptoops.NewCredential()
	if err != nil {
		return fmt.Errorf("server credential: %w", err)
	}
	log.Info().Str("client-id", clientCred.ID()).Str("server-id", serverCred.ID()).Msg("generated permanent identities")

	client, err := curve.NewClient(clientCred, serverCred.Public)
	if err != nil {
		return fmt.Errorf("new client: %w", err)
	}
	server, err := curve.NewServer(serverCred, zapAuth)
	if err != nil {
		return fmt.Errorf("new server: %w", err)
	}

	metrics := handshake.NewMetrics("curvepair")
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.Collectors()...)
	client.SetMetrics(metrics)
	server.SetMetrics(metrics)

	if flagVerbose {
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
		client.SetVerbose(true)
		client.SetLogger(log.Logger)
		server.SetVerbose(true)
		server.SetLogger(log.Logger)
	}

	for name, value := range cfg.ClientMetadata {
		client.SetMetadata(name, []byte(value))
	}
	for name, value := range cfg.ServerMetadata {
		server.SetMetadata(name, []byte(value))
	}

	ctx := context.Background()
	out := client.Execute(ctx, nil)
	for i := 0; i < 10 && out != nil; i++ {
		out = server.Execute(ctx, out)
		if out == nil {
			break
		}
		out = client.Execute(ctx, out)
	}
	if client.Exception() || server.Exception() {
		return fmt.Errorf("handshake failed: client reason=%q server reason=%q", client.Reason(), server.Reason())
	}
	log.Info().Msg("handshake complete")

	for name, value := range server.Metadata() {
		log.Info().Str("name", name).Str("value", string(value)).Msg("server observed client metadata")
	}
	for name, value := range client.Metadata() {
		log.Info().Str("name", name).Str("value", string(value)).Msg("client observed server metadata")
	}

	frame, err := client.Encode([]byte("hello from client"), false)
	if err != nil {
		return fmt.Errorf("client encode: %w", err)
	}
	plaintext, more, err := server.Decode(frame)
	if err != nil {
		return fmt.Errorf("server decode: %w", err)
	}
	log.Info().Bool("more", more).Str("plaintext", string(plaintext)).Msg("server received")

	reply, err := server.Encode([]byte("hello from server"), false)
	if err != nil {
		return fmt.Errorf("server encode: %w", err)
	}
	plaintext, more, err = client.Decode(reply)
	if err != nil {
		return fmt.Errorf("client decode: %w", err)
	}
	log.Info().Bool("more", more).Str("plaintext", string(plaintext)).Msg("client received")

	fmt.Printf("client id: %s\nserver id: %s\n", clientCred.ID(), serverCred.ID())
	fmt.Printf("client permanent public key: %s\n", base64.StdEncoding.EncodeToString(clientCred.Public[:]))
	return nil
}
