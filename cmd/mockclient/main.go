// Command mockclient runs an interview against a worker from the terminal. A
// WAV file stands in for the microphone and interviewer audio is written to a
// WAV file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/prepwise/voice-interview/internal/audio"
	"github.com/prepwise/voice-interview/internal/client"
	"github.com/prepwise/voice-interview/internal/config"
	"github.com/prepwise/voice-interview/internal/observability"
	"github.com/prepwise/voice-interview/internal/protocol"
	"github.com/prepwise/voice-interview/internal/session"
)

type options struct {
	apiURL      string
	userToken   string
	interviewID string
	token       string
	workerURL   string
	blocks      int
	answerLimit time.Duration
	blockTime   time.Duration
	startBlock  int
	input       string
	output      string
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.apiURL, "api", "", "control API base URL; when set the session token and interview settings are fetched from it")
	flag.StringVar(&o.userToken, "user-token", "", "user bearer token for the control API")
	flag.StringVar(&o.interviewID, "interview", "", "interview id")
	flag.StringVar(&o.token, "token", "", "session token (without -api)")
	flag.StringVar(&o.workerURL, "worker", config.GetEnv("WORKER_URL", "ws://localhost:8080"), "worker websocket base URL")
	flag.IntVar(&o.blocks, "blocks", 0, "number of blocks, 0 for a legacy interview (without -api)")
	flag.DurationVar(&o.answerLimit, "answer-limit", 0, "answer time limit per block (without -api)")
	flag.DurationVar(&o.blockTime, "block-time", 20*time.Second, "click next after this long in each block, 0 to wait for the answer limit")
	flag.IntVar(&o.startBlock, "start-block", 0, "resume at this 1-indexed block")
	flag.StringVar(&o.input, "in", "answer.wav", "WAV file streamed as the microphone")
	flag.StringVar(&o.output, "out", "interviewer.wav", "WAV file receiving interviewer audio")
	flag.Parse()
	return o
}

func main() {
	opts := parseFlags()
	if opts.interviewID == "" {
		color.Red("-interview is required")
		os.Exit(2)
	}

	observability.InitLogger(observability.LogOptions{Level: config.GetEnv("LOG_LEVEL", "warn"), Pretty: true})
	logger := observability.GetLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sessionCtx := session.Context{TotalBlocks: opts.blocks, AnswerTimeLimit: opts.answerLimit}
	if opts.apiURL != "" {
		api := &controlAPI{baseURL: opts.apiURL, token: opts.userToken}
		iv, err := api.interview(ctx, opts.interviewID)
		if err != nil {
			color.Red("Failed to load interview: %v", err)
			os.Exit(1)
		}
		sessionCtx = session.Context{
			TotalBlocks:     len(iv.Blocks),
			AnswerTimeLimit: time.Duration(iv.AnswerTimeLimitSec) * time.Second,
		}
		tok, err := api.sessionToken(ctx, opts.interviewID)
		if err != nil {
			color.Red("Failed to get websocket token: %v", err)
			os.Exit(1)
		}
		opts.token = tok.Token
		if tok.WorkerURL != "" {
			opts.workerURL = tok.WorkerURL
		}
	}
	if opts.token == "" {
		color.Red("a session token is required: pass -token or -api with -user-token")
		os.Exit(2)
	}

	mic, err := audio.OpenWavSource(opts.input, logger)
	if err != nil {
		color.Red("Failed to open microphone input: %v", err)
		os.Exit(1)
	}
	defer mic.Close()

	sink, err := audio.CreateWavSink(opts.output, audio.OutputSampleRate)
	if err != nil {
		color.Red("Failed to create output: %v", err)
		os.Exit(1)
	}
	player := audio.NewBufferedPlayer(sink, 0, logger)
	player.Start(ctx)

	cfg := client.Config{InterviewID: opts.interviewID, Session: sessionCtx}
	if opts.startBlock > 1 {
		idx := opts.startBlock - 1
		cfg.StartBlockIndex = &idx
	}
	driver := client.NewDriver(cfg, &client.WSDialer{BaseURL: opts.workerURL, Token: opts.token}, mic, player)
	driver.OnUpdate(printer(driver, opts.blockTime))

	color.Cyan("Interview %s: %d block(s), worker %s", opts.interviewID, sessionCtx.TotalBlocks, opts.workerURL)
	snap, runErr := driver.Run(ctx)

	player.Stop()
	if err := sink.Close(); err != nil {
		color.Red("Failed to write %s: %v", opts.output, err)
	}

	switch {
	case runErr != nil:
		color.Yellow("\nInterrupted: %v", runErr)
	case snap.Err != "":
		color.Red("\nInterview ended with an error: %s", snap.Err)
		os.Exit(1)
	default:
		color.Green("\nInterview complete in %s, %d transcript entries, audio in %s",
			snap.ElapsedTime, snap.Transcript.Len(), opts.output)
	}
}

// printer renders updates and clicks through the blocks on a timer.
func printer(d *client.Driver, blockTime time.Duration) func(client.Update) {
	ai := color.New(color.FgCyan, color.Bold)
	user := color.New(color.FgGreen, color.Bold)
	state := color.New(color.FgYellow)

	return func(u client.Update) {
		if commit, ok := u.Event.(session.TranscriptCommit); ok {
			label := user
			if commit.Speaker == protocol.SpeakerAI {
				label = ai
			}
			label.Printf("%-11s", commit.Speaker.String()+":")
			fmt.Println(commit.Text)
		}

		if u.Previous.State.Name() == u.Snapshot.State.Name() {
			return
		}
		state.Printf("[%s] %s\n", u.Snapshot.Connection, u.Snapshot.State.Name())

		switch st := u.Snapshot.State.(type) {
		case session.Answering:
			if blockTime <= 0 {
				return
			}
			block := st.BlockIndex
			time.AfterFunc(blockTime, func() {
				if cur, ok := d.Snapshot().State.(session.Answering); ok && cur.BlockIndex == block {
					d.Post(session.UserClickedNext{})
				}
			})
		case session.BlockCompleteScreen:
			time.AfterFunc(time.Second, func() { d.Post(session.UserClickedContinue{}) })
		}
	}
}
