// posecli is a command line client of a posed node.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/spacemeshos/pose/aggregation"
	"github.com/spacemeshos/pose/client"
	"github.com/spacemeshos/pose/dispute"
	"github.com/spacemeshos/pose/receipt"
	"github.com/spacemeshos/pose/server"
	"github.com/spacemeshos/pose/shared"
	"github.com/spacemeshos/pose/signing"
)

type globalOptions struct {
	Address string        `long:"address" short:"a" default:"localhost:8080" description:"Address of the posed HTTP API"`
	Timeout time.Duration `long:"timeout"           default:"30s"            description:"Timeout of a single command"`
}

var global globalOptions

func connect() (*client.HTTPClient, context.Context, context.CancelFunc, error) {
	cl, err := client.NewHTTPClient(global.Address)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), global.Timeout)
	return cl, ctx, cancel, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

type genKeyCommand struct{}

func (genKeyCommand) Execute([]string) error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	fmt.Printf("private key: %s\n", base64.StdEncoding.EncodeToString(priv))
	fmt.Printf("node id: %s\n", shared.NodeID(pub).Hex())
	return nil
}

type infoCommand struct{}

func (infoCommand) Execute([]string) error {
	cl, ctx, cancel, err := connect()
	if err != nil {
		return err
	}
	defer cancel()
	info, err := cl.Info(ctx)
	if err != nil {
		return err
	}
	return printJSON(info)
}

type startEpochCommand struct {
	Epoch      uint64   `long:"epoch"      required:"true" description:"Epoch number"`
	BlockHash  string   `long:"block-hash" required:"true" description:"Hex encoded block hash seeding the role draw"`
	Validators []string `long:"validator"  required:"true" description:"Hex encoded validator node id (repeatable)"`
}

func (c *startEpochCommand) Execute([]string) error {
	blockHash, err := shared.HashFromHex(c.BlockHash)
	if err != nil {
		return fmt.Errorf("block hash: %w", err)
	}
	validators := make([]shared.NodeID, 0, len(c.Validators))
	for _, v := range c.Validators {
		id, err := shared.NodeIDFromHex(v)
		if err != nil {
			return fmt.Errorf("validator %q: %w", v, err)
		}
		validators = append(validators, id)
	}

	cl, ctx, cancel, err := connect()
	if err != nil {
		return err
	}
	defer cancel()
	res, err := cl.StartEpoch(ctx, c.Epoch, blockHash, validators)
	if err != nil {
		return err
	}
	return printJSON(res)
}

type challengeCommand struct {
	Node string `long:"node" required:"true"  description:"Hex encoded id of the challenged node"`
	Type string `long:"type" default:"uptime" description:"Challenge type (uptime, storage, relay)"`
	Spec string `long:"spec"                  description:"Path of a JSON query spec"`
}

func (c *challengeCommand) Execute([]string) error {
	node, err := shared.NodeIDFromHex(c.Node)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}
	typ, err := shared.ParseChallengeType(c.Type)
	if err != nil {
		return err
	}
	var spec shared.Body
	if c.Spec != "" {
		if err := readJSON(c.Spec, &spec); err != nil {
			return err
		}
	}

	cl, ctx, cancel, err := connect()
	if err != nil {
		return err
	}
	defer cancel()
	ch, reason, err := cl.IssueChallenge(ctx, node, typ, spec)
	if err != nil {
		return err
	}
	if reason != "" {
		return fmt.Errorf("challenge refused: %s", reason)
	}
	return printJSON(ch)
}

// respondCommand answers an uptime challenge with the key in POSE_PRIVATE_KEY.
type respondCommand struct {
	Challenge string `long:"challenge" required:"true" description:"Path of the JSON challenge to answer"`
}

func (c *respondCommand) Execute([]string) error {
	var ch shared.ChallengeMessage
	if err := readJSON(c.Challenge, &ch); err != nil {
		return err
	}
	if ch.ChallengeType != shared.Uptime {
		return fmt.Errorf("only uptime challenges can be answered, got %s", ch.ChallengeType)
	}
	key, err := base64.StdEncoding.DecodeString(os.Getenv(server.KeyEnvVar))
	if err != nil {
		return fmt.Errorf("decoding %s: %w", server.KeyEnvVar, err)
	}
	signer, err := signing.NewEdSigner(key)
	if err != nil {
		return err
	}
	rc, err := receipt.SignReceipt(signer, &ch, receipt.UptimeResponse(&ch), uint64(time.Now().UnixMilli()))
	if err != nil {
		return fmt.Errorf("signing receipt: %w", err)
	}

	cl, ctx, cancel, err := connect()
	if err != nil {
		return err
	}
	defer cancel()
	res, err := cl.SubmitReceipt(ctx, rc)
	if err != nil {
		return err
	}
	return printJSON(res)
}

type closeCommand struct {
	Epoch uint64 `long:"epoch" required:"true" description:"Epoch number"`
}

func (c *closeCommand) Execute([]string) error {
	cl, ctx, cancel, err := connect()
	if err != nil {
		return err
	}
	defer cancel()
	batch, err := cl.CloseEpoch(ctx, c.Epoch)
	if err != nil {
		return err
	}
	if batch == nil {
		fmt.Println("epoch closed, no batch built")
		return nil
	}
	return printJSON(batch)
}

type batchCommand struct {
	Epoch      uint64 `long:"epoch"      required:"true" description:"Epoch number"`
	Aggregator string `long:"aggregator"                 description:"Hex encoded aggregator id (defaults to the assigned one)"`
}

func (c *batchCommand) Execute([]string) error {
	var aggregator *shared.NodeID
	if c.Aggregator != "" {
		id, err := shared.NodeIDFromHex(c.Aggregator)
		if err != nil {
			return fmt.Errorf("aggregator: %w", err)
		}
		aggregator = &id
	}
	cl, ctx, cancel, err := connect()
	if err != nil {
		return err
	}
	defer cancel()
	batch, err := cl.Batch(ctx, c.Epoch, aggregator)
	if errors.Is(err, client.ErrNotFound) {
		return fmt.Errorf("no batch stored for epoch %d", c.Epoch)
	}
	if err != nil {
		return err
	}
	return printJSON(batch)
}

// verifyBatchCommand checks a batch file offline.
type verifyBatchCommand struct {
	File       string `long:"file"        required:"true" description:"Path of the JSON batch"`
	SampleSize int    `long:"sample-size"                 description:"Expected number of sample proofs"`
}

func (c *verifyBatchCommand) Execute([]string) error {
	var batch shared.ReceiptBatch
	if err := readJSON(c.File, &batch); err != nil {
		return err
	}
	sampleSize := c.SampleSize
	if sampleSize == 0 {
		sampleSize = aggregation.DefaultSampleSize
	}
	if err := aggregation.VerifyBatch(&batch, signing.EdVerifier{}, sampleSize); err != nil {
		fmt.Printf("❌ failed: %v\n", err)
		return err
	}
	fmt.Printf("✅ batch %s is valid\n", batch.ID())
	return nil
}

type penaltyCommand struct {
	Node string `long:"node" required:"true" description:"Hex encoded node id"`
}

func (c *penaltyCommand) Execute([]string) error {
	node, err := shared.NodeIDFromHex(c.Node)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}
	cl, ctx, cancel, err := connect()
	if err != nil {
		return err
	}
	defer cancel()
	state, err := cl.Penalty(ctx, node)
	if err != nil {
		return err
	}
	return printJSON(state)
}

type disputesCommand struct {
	Type    string `long:"type"                 description:"Event type to select"`
	Node    string `long:"node"                 description:"Hex encoded node id to select"`
	Epoch   int64  `long:"epoch"   default:"-1" description:"Epoch to select (-1 for all)"`
	Limit   int    `long:"limit"                description:"Maximum number of events, most recent first"`
	Summary bool   `long:"summary"              description:"Print counts per event type instead of events"`
}

func (c *disputesCommand) Execute([]string) error {
	cl, ctx, cancel, err := connect()
	if err != nil {
		return err
	}
	defer cancel()
	if c.Summary {
		counts, err := cl.DisputeSummary(ctx)
		if err != nil {
			return err
		}
		return printJSON(counts)
	}

	filter := dispute.Filter{Type: dispute.EventType(c.Type), Limit: c.Limit}
	if c.Node != "" {
		node, err := shared.NodeIDFromHex(c.Node)
		if err != nil {
			return fmt.Errorf("node: %w", err)
		}
		filter.NodeID = &node
	}
	if c.Epoch >= 0 {
		epoch := uint64(c.Epoch)
		filter.EpochID = &epoch
	}
	events, err := cl.Disputes(ctx, filter)
	if err != nil {
		return err
	}
	return printJSON(events)
}

func main() {
	parser := flags.NewParser(&global, flags.Default)
	commands := []struct {
		name, short string
		data        any
	}{
		{"genkey", "Generate a node key", &genKeyCommand{}},
		{"info", "Show the node identity and current epoch", &infoCommand{}},
		{"start-epoch", "Start an epoch", &startEpochCommand{}},
		{"challenge", "Issue a challenge", &challengeCommand{}},
		{"respond", "Answer an uptime challenge", &respondCommand{}},
		{"close", "Close an epoch and build its batch", &closeCommand{}},
		{"batch", "Fetch a stored batch", &batchCommand{}},
		{"verify-batch", "Verify a batch file offline", &verifyBatchCommand{}},
		{"penalty", "Show the penalty state of a node", &penaltyCommand{}},
		{"disputes", "Query the dispute log", &disputesCommand{}},
	}
	for _, cmd := range commands {
		if _, err := parser.AddCommand(cmd.name, cmd.short, "", cmd.data); err != nil {
			panic(err)
		}
	}

	if _, err := parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
