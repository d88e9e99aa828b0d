package workflow

import (
	"context"

	"github.com/insightflow/insightflow/graph"
	"github.com/insightflow/insightflow/jsonx"
	"github.com/insightflow/insightflow/model"
)

// CriticalFailure is the terminal failure node. It translates the technical
// error into an actionable user message and freezes the run.
func (n *Nodes) CriticalFailure(_ context.Context, s State) graph.NodeResult[State] {
	s.CriticalFailure = true
	if s.Error == "" {
		s.Error = "the analysis could not be completed"
	}
	s.Message = userMessage(s.Error, s.Query)
	s.WorkflowComplete = true
	s.CurrentStage = StageComplete
	s.ProgressMessage = "Analysis stopped"
	n.logger.Warn("run ended in critical failure",
		"conversation_id", s.ConversationID,
		"error", s.Error)
	return done(s)
}

type conversationalResponse struct {
	Message   string `json:"message"`
	Narration string `json:"narration"`
	Analysis  string `json:"analysis"`
}

// ConversationalEnd answers without a data source. The three reply fields
// are always populated, falling back to static text when the model call
// fails.
func (n *Nodes) ConversationalEnd(ctx context.Context, s State) graph.NodeResult[State] {
	s.ProgressMessage = "Replying"

	resp, err := n.model.Complete(ctx, model.Request{
		Prompt:      buildConversationalPrompt(s),
		System:      conversationalSystemContext,
		MaxTokens:   1000,
		Temperature: 0.6,
	})
	if err == nil {
		var parsed conversationalResponse
		if jsonx.ExtractObject(resp.Content, &parsed) == nil {
			s.Message = parsed.Message
			s.Narration = parsed.Narration
			s.Analysis = parsed.Analysis
		} else {
			// A plain-text reply is still a reply.
			s.Message = resp.Content
		}
	}

	if s.Message == "" {
		s.Message = "I can help you analyze your data. Connect a data source and ask a question like \"total sales by month\"."
	}
	if s.Narration == "" {
		s.Narration = s.Message
	}
	if s.Analysis == "" {
		s.Analysis = "Once a data source is connected I can generate SQL, run it, and produce charts and insights."
	}
	return done(complete(s))
}
