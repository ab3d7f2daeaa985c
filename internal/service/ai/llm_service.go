package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/moodcycle-gateway/internal/config"
	"github.com/zhouzirui/moodcycle-gateway/internal/logging"
	"github.com/zhouzirui/moodcycle-gateway/internal/model/chat"
	"github.com/zhouzirui/moodcycle-gateway/internal/model/persona"
)

// historyLimit is how many cached turns are sent along with a message.
const historyLimit = 4

// Service answers chat messages with an Ark model through an eino chain.
type Service struct {
	personas persona.Store
	prompts  *PersonaPromptManager
	chain    compose.Runnable[map[string]any, *schema.Message]
	logger   *zap.Logger
}

// NewService creates the chat model from cfg and compiles the chain.
func NewService(ctx context.Context, personas persona.Store, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		personas: personas,
		prompts:  NewPersonaPromptManager(),
		chain:    runnable,
		logger:   logger,
	}, nil
}

// Reply runs the chain for one message.
func (s *Service) Reply(ctx context.Context, req Request) (Reply, error) {
	p := persona.Lookup(s.personas, req.Context.Persona)

	response, err := s.chain.Invoke(ctx, s.buildChainInput(p, req))
	if err != nil {
		return Reply{}, classify(ctx, fmt.Errorf("failed to run AI chain: %w", err))
	}

	tokens := 0
	if response.ResponseMeta != nil && response.ResponseMeta.Usage != nil {
		tokens = response.ResponseMeta.Usage.TotalTokens
	}

	s.logger.Debug("generated response",
		zap.String("device", logging.MaskID(req.DeviceID)),
		zap.String("persona", string(p.ID)),
		zap.Int("length", len(response.Content)),
		zap.Int("tokens", tokens))

	return Reply{Text: response.Content, TokensUsed: tokens}, nil
}

func (s *Service) buildChainInput(p persona.Persona, req Request) map[string]any {
	return map[string]any{
		"system":  s.prompts.BuildSystemPrompt(p, req.Context),
		"history": buildHistoryMessages(req.History),
		"query":   req.Message,
	}
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}
