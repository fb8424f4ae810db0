package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/InternetOfPeers/hiero-message-box/internal/config"
	"github.com/InternetOfPeers/hiero-message-box/internal/keys"
	"github.com/InternetOfPeers/hiero-message-box/internal/ledger"
	"github.com/InternetOfPeers/hiero-message-box/internal/mbox"
	"github.com/InternetOfPeers/hiero-message-box/internal/metrics"
	"github.com/InternetOfPeers/hiero-message-box/internal/mirror"
	"github.com/InternetOfPeers/hiero-message-box/internal/poller"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const (
	exitOK             = 0
	exitInvalidInput   = 10
	exitTransportError = 20
	exitCryptoError    = 30
	exitMismatch       = 40
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitInvalidInput)
	}

	switch os.Args[1] {
	case "keygen":
		runKeygen(os.Args[2:])
	case "setup":
		runSetup(os.Args[2:])
	case "send":
		runSend(os.Args[2:])
	case "listen":
		runListen(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Printf("msgbox version=%s commit=%s build_date=%s\n", version, commit, buildDate)
	default:
		printUsage()
		os.Exit(exitInvalidInput)
	}
}

func runKeygen(args []string) {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.yaml (optional)")
	if err := fs.Parse(args); err != nil {
		fail(err.Error(), exitInvalidInput)
	}

	ctrl, _, err := buildController(*configPath)
	if err != nil {
		fail(err.Error(), exitInvalidInput)
	}
	kp, err := ctrl.KeyPair()
	if err != nil {
		fail(err.Error(), exitCryptoError)
	}
	fingerprint, err := keys.Fingerprint(kp.Public)
	if err != nil {
		fail(err.Error(), exitCryptoError)
	}
	record, err := keys.MarshalPublished(kp.Public)
	if err != nil {
		fail(err.Error(), exitCryptoError)
	}
	printJSON(map[string]any{
		"scheme":      kp.Scheme,
		"fingerprint": fingerprint,
		"record":      json.RawMessage(record),
	})
	os.Exit(exitOK)
}

func runSetup(args []string) {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.yaml (optional)")
	if err := fs.Parse(args); err != nil {
		fail(err.Error(), exitInvalidInput)
	}

	ctrl, _, err := buildController(*configPath)
	if err != nil {
		fail(err.Error(), exitInvalidInput)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	topicID, err := ctrl.Setup(ctx)
	if err != nil {
		fail(err.Error(), exitTransportError)
	}
	printJSON(map[string]any{"topicId": topicID})
	os.Exit(exitOK)
}

func runSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.yaml (optional)")
	topicID := fs.String("topic", "", "recipient message box topic id")
	message := fs.String("message", "", "plaintext to send; omit to read from stdin")
	if err := fs.Parse(args); err != nil {
		fail(err.Error(), exitInvalidInput)
	}
	if strings.TrimSpace(*topicID) == "" {
		fail("topic is required", exitInvalidInput)
	}
	plaintext := []byte(*message)
	if *message == "" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			fail(err.Error(), exitInvalidInput)
		}
		plaintext = raw
	}

	ctrl, _, err := buildController(*configPath)
	if err != nil {
		fail(err.Error(), exitInvalidInput)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	receipt, err := ctrl.Send(ctx, *topicID, plaintext)
	if err != nil {
		fail(err.Error(), exitTransportError)
	}
	printJSON(map[string]any{
		"topicId":    receipt.TopicID,
		"messageId":  receipt.MessageID,
		"sequences":  receipt.Sequences,
		"chunkCount": receipt.ChunkCount,
	})
	os.Exit(exitOK)
}

func runListen(args []string) {
	fs := flag.NewFlagSet("listen", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.yaml (optional)")
	topicID := fs.String("topic", "", "own message box topic id")
	fromSeq := fs.Uint64("from", 0, "resume after this sequence number")
	if err := fs.Parse(args); err != nil {
		fail(err.Error(), exitInvalidInput)
	}
	if strings.TrimSpace(*topicID) == "" {
		fail("topic is required", exitInvalidInput)
	}

	ctrl, logger, err := buildController(*configPath)
	if err != nil {
		fail(err.Error(), exitInvalidInput)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub, err := ctrl.Listen(ctx, *topicID, *fromSeq,
		func(m mbox.Message) {
			printJSON(map[string]any{
				"scheme":    m.Scheme,
				"sequences": m.Sequences,
				"plaintext": string(m.Plaintext),
			})
		},
		func(err error) {
			logger.Warn("message skipped", "err", err)
		})
	if err != nil {
		fail(err.Error(), exitTransportError)
	}
	logger.Info("listening", "topic", *topicID, "from", *fromSeq)
	<-sub.Done()
	os.Exit(exitOK)
}

func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.yaml (optional)")
	topicID := fs.String("topic", "", "message box topic id to check against")
	if err := fs.Parse(args); err != nil {
		fail(err.Error(), exitInvalidInput)
	}
	if strings.TrimSpace(*topicID) == "" {
		fail("topic is required", exitInvalidInput)
	}

	ctrl, _, err := buildController(*configPath)
	if err != nil {
		fail(err.Error(), exitInvalidInput)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ok, err := ctrl.VerifyKeyPairMatchesTopic(ctx, *topicID)
	if err != nil {
		fail(err.Error(), exitTransportError)
	}
	printJSON(map[string]any{"topicId": *topicID, "match": ok})
	if !ok {
		os.Exit(exitMismatch)
	}
	os.Exit(exitOK)
}

// buildController wires the configured collaborators. The local network uses
// the file-backed ledger for both sides; testnet and mainnet read through
// the public query service and stay read-only here, since entry submission
// needs an operator-signed gateway.
func buildController(configPath string) (*mbox.Controller, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	opts := mbox.Options{
		AccountID:       cfg.AccountID,
		Scheme:          cfg.EncryptionScheme,
		DataDir:         cfg.DataDir,
		KeyPassphrase:   config.KeyPassphrase(),
		MaxChunkPayload: cfg.MaxChunkPayloadBytes,
		Poll: poller.Config{
			PollInterval: cfg.PollInterval,
			StaleAfter:   cfg.ReassemblyStaleAfter,
		},
		Logger:  logger,
		Metrics: metrics.New(prometheus.DefaultRegisterer),
	}

	if cfg.EncryptionScheme == keys.SchemeECIES {
		secret, err := resolveOperatorSecret(config.OperatorSecret())
		if err != nil {
			return nil, nil, err
		}
		opts.SecretType = keys.SecretKeySecp256k1
		opts.Secret = secret
	}

	if cfg.Network == mirror.NetworkLocal {
		store, err := ledger.OpenFileStore(cfg.DataDir, 0)
		if err != nil {
			return nil, nil, err
		}
		opts.Ledger = store
		opts.Source = store
	} else {
		opts.Source = mirror.NewClient(cfg.MirrorURL())
	}

	ctrl, err := mbox.New(opts)
	if err != nil {
		return nil, nil, err
	}
	return ctrl, logger, nil
}

// resolveOperatorSecret accepts either a hex-encoded secp256k1 scalar or a
// BIP-39 mnemonic sentence.
func resolveOperatorSecret(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("MSGBOX_OPERATOR_KEY is required for the ECIES scheme")
	}
	if strings.ContainsRune(raw, ' ') {
		return keys.SecretFromMnemonic(raw, "")
	}
	secret, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, fmt.Errorf("MSGBOX_OPERATOR_KEY is neither hex nor a mnemonic: %w", err)
	}
	return secret, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fail(err.Error(), exitTransportError)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stdout, "msgbox <command> [flags]")
	fmt.Fprintln(os.Stdout, "commands:")
	fmt.Fprintln(os.Stdout, "  keygen  [--config path]                     create or load the local key pair")
	fmt.Fprintln(os.Stdout, "  setup   [--config path]                     create a topic and publish the public key")
	fmt.Fprintln(os.Stdout, "  send    --topic 0.0.x [--message text]      encrypt and submit to a recipient's box")
	fmt.Fprintln(os.Stdout, "  listen  --topic 0.0.x [--from n]            poll, reassemble, and decrypt incoming")
	fmt.Fprintln(os.Stdout, "  verify  --topic 0.0.x                       check the local key against the topic")
	fmt.Fprintln(os.Stdout, "  version                                     print build information")
}

func fail(msg string, code int) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(code)
}
