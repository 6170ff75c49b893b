/**
 * @description
 * This is the entry point for the agent console, a text front-end for the
 * fraud verification call flow. It connects to the same database as the
 * service, builds the application service and the LLM-driven agent, and runs
 * one call session over stdin/stdout. The voice stack in production drives
 * the same agent; this binary exists for local runs and call-flow rehearsal.
 *
 * @dependencies
 * - bufio, log, os: Standard Go libraries.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/sashabaranov/go-openai: Chat completion client.
 * - internal/agent, internal/app, internal/config, internal/store: Internal packages.
 */

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	openai "github.com/sashabaranov/go-openai"

	"github.com/omnibank/fraud-review-service/internal/agent"
	"github.com/omnibank/fraud-review-service/internal/app"
	"github.com/omnibank/fraud-review-service/internal/config"
	"github.com/omnibank/fraud-review-service/internal/store"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=agent-console msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		log.Fatalf("level=fatal component=agent-console msg=\"agent requires an API key\" env=OPENAI_API_KEY")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=agent-console msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=agent-console msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()

	repository := store.NewPostgresRepository(dbpool)
	audit := app.NewAuditLog(cfg.AuditLogPath)
	fraudService := app.NewService(
		repository,
		audit,
		cfg.EventsExchange,
		cfg.VerificationMaxAttempts,
		cfg.VerificationLockoutSeconds,
	)

	client := openai.NewClient(cfg.OpenAIAPIKey)
	callAgent := agent.New(client, cfg.AgentModel, fraudService)
	session := callAgent.NewSession()

	fmt.Println("Fraud verification call started. Type your responses; ctrl-d hangs up.")

	// The agent opens the call before the customer says anything.
	opening, err := converse(callAgent, session, "The call has connected. Greet the customer and begin.")
	if err != nil {
		log.Fatalf("level=fatal component=agent-console msg=\"opening turn failed\" err=%v", err)
	}
	fmt.Printf("agent> %s\n", opening)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			break
		}
		utterance := strings.TrimSpace(scanner.Text())
		if utterance == "" {
			continue
		}

		reply, err := converse(callAgent, session, utterance)
		if err != nil {
			if errors.Is(err, agent.ErrCallEnded) {
				break
			}
			log.Printf("level=error component=agent-console msg=\"turn failed\" err=%v", err)
			fmt.Println("agent> I am sorry, an internal error has occurred and I need to disconnect. Please call us back to resolve this issue.")
			break
		}
		fmt.Printf("agent> %s\n", reply)

		if session.Ended {
			break
		}
	}

	fmt.Println("Call ended.")
}

func converse(callAgent *agent.Agent, session *agent.Session, utterance string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	return callAgent.Converse(ctx, session, utterance)
}
