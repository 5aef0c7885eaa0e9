package service

import (
	"context"

	"github.com/readstack/librarian/internal/domain"
	"github.com/readstack/librarian/internal/telemetry"
)

// AnswerClient defines the interface for generating grounded answers.
type AnswerClient interface {
	GenerateAnswer(ctx context.Context, question, contextText string) (string, error)
}

// Retriever is the slice of RetrievalService the QA flow needs.
type Retriever interface {
	Query(ctx context.Context, ownerID, question string, k int) ([]domain.Excerpt, error)
}

const noContextAnswer = "I could not find anything in your documents relevant to that question."

// AskInput carries one question against an owner's indexed documents.
type AskInput struct {
	OwnerID  string
	Question string
	TopK     int
	MaxChars int
}

// AskOutput is the generated answer with its supporting excerpts.
type AskOutput struct {
	Answer     string
	Confidence float64
	Excerpts   []domain.Excerpt
}

// QAService answers questions grounded in retrieved document excerpts.
type QAService struct {
	retriever Retriever
	answerer  AnswerClient

	defaultTopK     int
	defaultMaxChars int
}

func NewQAService(retriever Retriever, answerer AnswerClient, defaultTopK, defaultMaxChars int) *QAService {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	if defaultMaxChars <= 0 {
		defaultMaxChars = 6000
	}
	return &QAService{
		retriever:       retriever,
		answerer:        answerer,
		defaultTopK:     defaultTopK,
		defaultMaxChars: defaultMaxChars,
	}
}

// Search returns the owner's ranked excerpts without generating an
// answer. A non-positive k falls back to the configured default.
func (s *QAService) Search(ctx context.Context, ownerID, question string, k int) ([]domain.Excerpt, error) {
	if question == "" {
		return nil, domain.NewDomainError(domain.ErrCodeInput, "question is required")
	}
	if k <= 0 {
		k = s.defaultTopK
	}
	return s.retriever.Query(ctx, ownerID, question, k)
}

// Ask retrieves the owner's most relevant excerpts, assembles them into
// a bounded context, and generates an answer. With no relevant context
// it returns a fixed answer and zero confidence rather than guessing.
func (s *QAService) Ask(ctx context.Context, input AskInput) (*AskOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "QAService.Ask", telemetry.SpanAttributes{
		OwnerID:   input.OwnerID,
		Operation: "ask",
	})
	defer span.End()

	if input.Question == "" {
		return nil, domain.NewDomainError(domain.ErrCodeInput, "question is required")
	}

	topK := input.TopK
	if topK <= 0 {
		topK = s.defaultTopK
	}
	maxChars := input.MaxChars
	if maxChars <= 0 {
		maxChars = s.defaultMaxChars
	}

	excerpts, err := s.retriever.Query(ctx, input.OwnerID, input.Question, topK)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	assembled := AssembleContext(excerpts, maxChars)
	if len(assembled.Included) == 0 {
		return &AskOutput{
			Answer:     noContextAnswer,
			Confidence: 0.0,
			Excerpts:   []domain.Excerpt{},
		}, nil
	}

	answer, err := s.answerer.GenerateAnswer(ctx, input.Question, assembled.Text)
	if err != nil {
		span.SetError(err)
		return nil, domain.NewProviderError(err)
	}

	return &AskOutput{
		Answer:     answer,
		Confidence: assembled.Confidence,
		Excerpts:   assembled.Included,
	}, nil
}
