/**
 * @description
 * This file implements the LLM-driven verification agent. The agent holds a
 * per-call session, sends the conversation to the chat completion API, and
 * executes the structured actions the model requests against the application
 * service. All case state lives in the service; the model only narrates.
 *
 * Key features:
 * - Strict JSON turn parsing with markdown fence stripping, so a model that
 *   wraps its response in a code block still parses.
 * - A bounded action loop per customer utterance: the model may chain at most
 *   a few actions before it must speak.
 * - Action results are fed back as "Observation:" messages, and the session
 *   records the active case and verification state for guardrails.
 *
 * @dependencies
 * - github.com/sashabaranov/go-openai: Chat completion client.
 * - internal/app, internal/domain, internal/store: Business logic and models.
 */

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/omnibank/fraud-review-service/internal/app"
	"github.com/omnibank/fraud-review-service/internal/store"
)

// maxActionHops bounds how many actions the model may chain before it must
// produce a spoken reply.
const maxActionHops = 4

var ErrCallEnded = errors.New("call has ended")

// ChatCompleter is the subset of the OpenAI client the agent needs.
// *openai.Client satisfies it.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Turn is the strict JSON shape every model response must follow.
type Turn struct {
	Say         string `json:"say"`
	Action      string `json:"action"`
	ActionInput string `json:"action_input"`
}

// Session holds the state of one verification call.
type Session struct {
	messages []openai.ChatCompletionMessage

	CaseID   *uuid.UUID
	Verified bool
	Ended    bool
}

// Agent drives the verification call flow against the chat completion API.
type Agent struct {
	client  ChatCompleter
	model   string
	service *app.Service
}

// New creates a verification agent backed by the given chat client and model.
func New(client ChatCompleter, model string, service *app.Service) *Agent {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Agent{client: client, model: model, service: service}
}

// NewSession starts a fresh call session seeded with the system prompt.
func (a *Agent) NewSession() *Session {
	return &Session{
		messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		},
	}
}

// Converse handles one customer utterance and returns what the agent says
// next. The model may chain actions (lookup, verify, confirm) before
// speaking; each action runs against the service and its result is appended
// as an observation.
func (a *Agent) Converse(ctx context.Context, session *Session, utterance string) (string, error) {
	if session.Ended {
		return "", ErrCallEnded
	}

	session.messages = append(session.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: utterance,
	})

	var spoken []string
	for hop := 0; hop <= maxActionHops; hop++ {
		turn, err := a.completeTurn(ctx, session)
		if err != nil {
			return "", err
		}

		if turn.Say != "" {
			spoken = append(spoken, turn.Say)
		}

		switch turn.Action {
		case "", ActionNone:
			return strings.Join(spoken, " "), nil
		case ActionEndCall:
			session.Ended = true
			return strings.Join(spoken, " "), nil
		case ActionLookup, ActionVerify, ActionConfirm:
			observation := a.executeAction(ctx, session, turn.Action, turn.ActionInput)
			session.messages = append(session.messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: "Observation: " + observation,
			})
		default:
			log.Printf("level=warn component=agent msg=\"model requested unknown action\" action=%q", turn.Action)
			session.messages = append(session.messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: "Observation: unknown action " + turn.Action + "; use one of lookup_case, verify_security_answer, confirm_transaction, none, end_call.",
			})
		}
	}

	if len(spoken) > 0 {
		return strings.Join(spoken, " "), nil
	}
	return "", fmt.Errorf("model exceeded %d actions without speaking", maxActionHops)
}

// completeTurn sends the session transcript to the model and parses the
// strict JSON reply.
func (a *Agent) completeTurn(ctx context.Context, session *Session) (*Turn, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: session.messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	content := resp.Choices[0].Message.Content
	session.messages = append(session.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: content,
	})

	turn, err := ParseTurn(content)
	if err != nil {
		return nil, fmt.Errorf("parse model turn: %w", err)
	}
	return turn, nil
}

// ParseTurn decodes a model response into a Turn, tolerating a markdown code
// fence around the JSON object.
func ParseTurn(content string) (*Turn, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var turn Turn
	if err := json.Unmarshal([]byte(trimmed), &turn); err != nil {
		return nil, err
	}
	return &turn, nil
}

// executeAction runs a model-requested action against the service and phrases
// the result as an observation. Failures never propagate raw errors to the
// model.
func (a *Agent) executeAction(ctx context.Context, session *Session, action, input string) string {
	switch action {
	case ActionLookup:
		return a.lookupCase(ctx, session, input)
	case ActionVerify:
		return a.verifyAnswer(ctx, session, input)
	case ActionConfirm:
		return a.confirmTransaction(ctx, session, input)
	}
	return "unknown action"
}

func (a *Agent) lookupCase(ctx context.Context, session *Session, callerName string) string {
	summary, err := a.service.LookupCase(ctx, callerName)
	if err != nil {
		if errors.Is(err, store.ErrCaseNotFound) {
			return fmt.Sprintf("I'm sorry, I could not find a pending fraud alert associated with the name '%s'. To protect your security, I must end this call. Please call our main fraud line later.", callerName)
		}
		log.Printf("level=error component=agent action=lookup_case err=%v", err)
		return "Internal Error: Unable to look up the case right now."
	}

	id := summary.CaseID
	session.CaseID = &id

	details, err := json.Marshal(map[string]string{
		"customer_name":      summary.CustomerName,
		"transaction_amount": summary.AmountDisplay,
		"merchant_name":      summary.MerchantName,
		"masked_card":        summary.MaskedCard,
		"location":           summary.Location,
		"timestamp":          summary.FlaggedAt.Format("Jan 2, 2006, 3:04 PM MST"),
		"security_question":  summary.SecurityQuestion,
	})
	if err != nil {
		log.Printf("level=error component=agent action=lookup_case msg=\"details marshal failed\" err=%v", err)
		return "Internal Error: Unable to look up the case right now."
	}
	return fmt.Sprintf("Case loaded. Proceed to security question: '%s'. Case details: %s", summary.SecurityQuestion, details)
}

func (a *Agent) verifyAnswer(ctx context.Context, session *Session, answer string) string {
	if session.CaseID == nil {
		return "Internal Error: Unable to verify account details."
	}

	result, err := a.service.VerifySecurityAnswer(ctx, *session.CaseID, answer)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrVerificationLocked):
			return "Verification failed. We cannot proceed further with the verification process."
		case errors.Is(err, store.ErrCaseNotPending):
			return "This case has already been resolved. No further verification is needed."
		default:
			log.Printf("level=error component=agent action=verify_security_answer err=%v", err)
			return "Internal Error: Unable to verify account details."
		}
	}

	if result.Verified {
		session.Verified = true
		return fmt.Sprintf("Verification successful. The suspicious transaction details are: %s. You must now ask the user if they made this transaction (yes/no).", result.TransactionDetails)
	}
	if result.AttemptsRemaining > 0 {
		return fmt.Sprintf("Verification failed. The answer did not match. %d attempt(s) remain; you may ask the security question one more time.", result.AttemptsRemaining)
	}
	return "Verification failed. We cannot proceed further with the verification process."
}

func (a *Agent) confirmTransaction(ctx context.Context, session *Session, decision string) string {
	if session.CaseID == nil {
		return "I'm sorry, an issue occurred with your case details. Please call our main fraud line for assistance."
	}

	result, err := a.service.ConfirmTransaction(ctx, *session.CaseID, decision)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidConfirmation):
			return "The decision must be a simple yes or no. Ask the customer again."
		case errors.Is(err, app.ErrNotVerified):
			return "Verification has not passed for this case. You must verify the security answer first."
		default:
			log.Printf("level=error component=agent action=confirm_transaction err=%v", err)
			return "I'm sorry, an issue occurred while processing your request. Please call our main fraud line for assistance."
		}
	}

	return result.Message
}
