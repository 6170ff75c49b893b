package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/omnibank/fraud-review-service/internal/app"
	"github.com/omnibank/fraud-review-service/internal/domain"
	"github.com/omnibank/fraud-review-service/internal/store"
)

// scriptedCompleter replays canned model turns in order and records the
// requests it receives.
type scriptedCompleter struct {
	turns    []string
	requests []openai.ChatCompletionRequest
}

func (s *scriptedCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.requests = append(s.requests, req)
	if len(s.turns) == 0 {
		return openai.ChatCompletionResponse{}, context.Canceled
	}
	next := s.turns[0]
	s.turns = s.turns[1:]
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: next}},
		},
	}, nil
}

type agentRepoStub struct {
	store.Repository

	byKey    map[string]*domain.CaseRecord
	byID     map[uuid.UUID]*domain.CaseRecord
	resolved map[uuid.UUID]string
}

func newAgentRepoStub(cases ...*domain.CaseRecord) *agentRepoStub {
	s := &agentRepoStub{
		byKey:    map[string]*domain.CaseRecord{},
		byID:     map[uuid.UUID]*domain.CaseRecord{},
		resolved: map[uuid.UUID]string{},
	}
	for _, c := range cases {
		s.byKey[c.LookupKey] = c
		s.byID[c.ID] = c
	}
	return s
}

func (s *agentRepoStub) FindPendingCaseByLookupKey(ctx context.Context, key string) (*domain.CaseRecord, error) {
	c, ok := s.byKey[key]
	if !ok || c.Status != domain.CaseStatusPendingReview {
		return nil, store.ErrCaseNotFound
	}
	return c, nil
}

func (s *agentRepoStub) FindCaseByID(ctx context.Context, caseID uuid.UUID) (*domain.CaseRecord, error) {
	c, ok := s.byID[caseID]
	if !ok {
		return nil, store.ErrCaseNotFound
	}
	return c, nil
}

func (s *agentRepoStub) MarkCaseVerified(ctx context.Context, caseID uuid.UUID) error {
	now := time.Now()
	s.byID[caseID].VerifiedAt = &now
	return nil
}

func (s *agentRepoStub) RecordFailedVerificationAttempt(ctx context.Context, caseID uuid.UUID, maxAttempts, lockoutSeconds int) (*store.VerificationState, error) {
	c := s.byID[caseID]
	c.FailedAttempts++
	state := &store.VerificationState{CaseID: caseID, FailedAttempts: c.FailedAttempts}
	if c.FailedAttempts >= maxAttempts {
		until := time.Now().Add(time.Duration(lockoutSeconds) * time.Second)
		state.LockedUntil = &until
	}
	return state, nil
}

func (s *agentRepoStub) ResolveCase(ctx context.Context, caseID uuid.UUID, status, note string) (*domain.CaseRecord, error) {
	c, ok := s.byID[caseID]
	if !ok {
		return nil, store.ErrCaseNotFound
	}
	if c.Status != domain.CaseStatusPendingReview {
		return c, store.ErrCaseNotPending
	}
	c.Status = status
	c.OutcomeNote = note
	c.UpdatedAt = time.Now()
	s.resolved[caseID] = status
	return c, nil
}

func (s *agentRepoStub) EnqueueOutboxMessage(ctx context.Context, exchange, routingKey string, payload []byte) error {
	return nil
}

func raviCase() *domain.CaseRecord {
	return &domain.CaseRecord{
		ID:               uuid.New(),
		LookupKey:        "ravi",
		CustomerName:     "Ravi Sharma",
		MaskedCard:       "**** 6789",
		AmountCents:      15050,
		AmountDisplay:    "$150.50",
		MerchantName:     "Local Grocery Store",
		Location:         "Mumbai, India",
		SecurityQuestion: "What is the last four digits of your registered phone number?",
		SecurityAnswer:   "5432",
		Status:           domain.CaseStatusPendingReview,
		FlaggedAt:        time.Date(2025, 11, 25, 19, 15, 0, 0, time.UTC),
	}
}

func turnJSON(t *testing.T, say, action, input string) string {
	t.Helper()
	body, err := json.Marshal(Turn{Say: say, Action: action, ActionInput: input})
	if err != nil {
		t.Fatalf("failed to marshal turn: %v", err)
	}
	return string(body)
}

func TestParseTurn(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Turn
		wantErr bool
	}{
		{
			name:    "plain json",
			content: `{"say":"Hello","action":"none","action_input":""}`,
			want:    Turn{Say: "Hello", Action: "none"},
		},
		{
			name:    "fenced json",
			content: "```json\n{\"say\":\"\",\"action\":\"lookup_case\",\"action_input\":\"Ravi Sharma\"}\n```",
			want:    Turn{Action: "lookup_case", ActionInput: "Ravi Sharma"},
		},
		{
			name:    "bare fence",
			content: "```\n{\"say\":\"Goodbye.\",\"action\":\"end_call\",\"action_input\":\"\"}\n```",
			want:    Turn{Say: "Goodbye.", Action: "end_call"},
		},
		{
			name:    "not json",
			content: "I will now look up the case.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTurn(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if *got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, *got)
			}
		})
	}
}

func TestConverse_LookupChainsIntoSecurityQuestion(t *testing.T) {
	c := raviCase()
	service := app.NewService(newAgentRepoStub(c), nil, "fraud.events", 3, 600)

	completer := &scriptedCompleter{turns: []string{
		turnJSON(t, "", ActionLookup, "Ravi Sharma"),
		turnJSON(t, "Thank you, Ravi. To verify your identity: what is the last four digits of your registered phone number?", ActionNone, ""),
	}}
	a := New(completer, "gpt-4o-mini", service)
	session := a.NewSession()

	reply, err := a.Converse(context.Background(), session, "My name is Ravi Sharma.")
	if err != nil {
		t.Fatalf("converse failed: %v", err)
	}
	if !strings.Contains(reply, "last four digits") {
		t.Fatalf("expected the security question in the reply, got %q", reply)
	}
	if session.CaseID == nil || *session.CaseID != c.ID {
		t.Fatal("expected the session to track the loaded case")
	}

	// The lookup observation must carry the question but never the answer.
	lastReq := completer.requests[len(completer.requests)-1]
	observation := lastReq.Messages[len(lastReq.Messages)-1].Content
	if !strings.HasPrefix(observation, "Observation: Case loaded.") {
		t.Fatalf("expected a case-loaded observation, got %q", observation)
	}
	if strings.Contains(observation, "5432") {
		t.Fatal("security answer leaked into the model transcript")
	}
}

func TestConverse_UnknownCallerObservation(t *testing.T) {
	service := app.NewService(newAgentRepoStub(), nil, "fraud.events", 3, 600)

	completer := &scriptedCompleter{turns: []string{
		turnJSON(t, "", ActionLookup, "Nobody Special"),
		turnJSON(t, "I could not find a pending fraud alert for that name. Goodbye.", ActionEndCall, ""),
	}}
	a := New(completer, "gpt-4o-mini", service)
	session := a.NewSession()

	reply, err := a.Converse(context.Background(), session, "This is Nobody Special.")
	if err != nil {
		t.Fatalf("converse failed: %v", err)
	}
	if !session.Ended {
		t.Fatal("expected the session to end")
	}
	if !strings.Contains(reply, "could not find") {
		t.Fatalf("unexpected reply: %q", reply)
	}

	lastReq := completer.requests[len(completer.requests)-1]
	observation := lastReq.Messages[len(lastReq.Messages)-1].Content
	if !strings.Contains(observation, "could not find a pending fraud alert") {
		t.Fatalf("expected a not-found observation, got %q", observation)
	}
}

func TestConverse_VerifyThenConfirmFraud(t *testing.T) {
	c := raviCase()
	repo := newAgentRepoStub(c)
	service := app.NewService(repo, nil, "fraud.events", 3, 600)

	a := New(&scriptedCompleter{}, "gpt-4o-mini", service)
	session := a.NewSession()
	session.CaseID = &c.ID

	observation := a.verifyAnswer(context.Background(), session, "5432")
	if !strings.HasPrefix(observation, "Verification successful.") {
		t.Fatalf("expected verification success, got %q", observation)
	}
	if !strings.Contains(observation, "$150.50") || !strings.Contains(observation, "Local Grocery Store") {
		t.Fatalf("expected transaction details in the observation, got %q", observation)
	}
	if !session.Verified {
		t.Fatal("expected session to record verification")
	}

	observation = a.confirmTransaction(context.Background(), session, "no")
	if !strings.Contains(observation, "blocked your card") {
		t.Fatalf("expected the card-blocked closing message, got %q", observation)
	}
	if repo.resolved[c.ID] != domain.CaseStatusConfirmedFraud {
		t.Fatalf("expected case resolved as fraud, got %q", repo.resolved[c.ID])
	}
}

func TestConverse_WrongAnswerReportsAttemptsRemaining(t *testing.T) {
	c := raviCase()
	service := app.NewService(newAgentRepoStub(c), nil, "fraud.events", 3, 600)

	a := New(&scriptedCompleter{}, "gpt-4o-mini", service)
	session := a.NewSession()
	session.CaseID = &c.ID

	observation := a.verifyAnswer(context.Background(), session, "9999")
	if !strings.HasPrefix(observation, "Verification failed.") {
		t.Fatalf("expected verification failure, got %q", observation)
	}
	if !strings.Contains(observation, "2 attempt(s) remain") {
		t.Fatalf("expected remaining attempts in observation, got %q", observation)
	}
	if session.Verified {
		t.Fatal("session must not be verified after a wrong answer")
	}
}

func TestConverse_ConfirmWithoutVerificationIsRefused(t *testing.T) {
	c := raviCase()
	service := app.NewService(newAgentRepoStub(c), nil, "fraud.events", 3, 600)

	a := New(&scriptedCompleter{}, "gpt-4o-mini", service)
	session := a.NewSession()
	session.CaseID = &c.ID

	observation := a.confirmTransaction(context.Background(), session, "yes")
	if !strings.Contains(observation, "verify the security answer first") {
		t.Fatalf("expected a verification guardrail, got %q", observation)
	}
}

func TestConverse_EndedSessionRejectsFurtherTurns(t *testing.T) {
	service := app.NewService(newAgentRepoStub(), nil, "fraud.events", 3, 600)
	a := New(&scriptedCompleter{}, "gpt-4o-mini", service)

	session := a.NewSession()
	session.Ended = true

	if _, err := a.Converse(context.Background(), session, "Hello?"); err != ErrCallEnded {
		t.Fatalf("expected ErrCallEnded, got %v", err)
	}
}

func TestConverse_ActionLoopIsBounded(t *testing.T) {
	c := raviCase()
	service := app.NewService(newAgentRepoStub(c), nil, "fraud.events", 3, 600)

	// The model keeps requesting lookups without ever speaking.
	loop := turnJSON(t, "", ActionLookup, "Ravi")
	completer := &scriptedCompleter{turns: []string{loop, loop, loop, loop, loop, loop, loop, loop}}
	a := New(completer, "gpt-4o-mini", service)
	session := a.NewSession()

	if _, err := a.Converse(context.Background(), session, "My name is Ravi."); err == nil {
		t.Fatal("expected an error when the model never speaks")
	}
}
