package lark

import (
	"context"
	"encoding/json"
	"fmt"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
)

// MessageCreator is the slice of the im/v1 message API the messenger uses
type MessageCreator interface {
	Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error)
}

// Messenger implements port.Notifier with Lark rich-text messages
type Messenger struct {
	messages MessageCreator
	logger   *zap.Logger
}

// NewMessenger creates a messenger sending through the client's IM API
func NewMessenger(client *Client, logger *zap.Logger) *Messenger {
	return NewMessengerWithAPI(client.client.Im.Message, logger)
}

// NewMessengerWithAPI creates a messenger over any MessageCreator
func NewMessengerWithAPI(messages MessageCreator, logger *zap.Logger) *Messenger {
	return &Messenger{
		messages: messages,
		logger:   logger,
	}
}

// Notify sends msg to the recipient's Lark account. Users without a linked
// account are skipped.
func (m *Messenger) Notify(ctx context.Context, recipient *entity.User, msg port.Message) error {
	if recipient.LarkOpenID == "" {
		m.logger.Info("Recipient has no Lark account, skipping",
			zap.Int64("user_id", recipient.ID),
			zap.String("title", msg.Title))
		return nil
	}

	body, err := messageBody(recipient.LarkOpenID, msg)
	if err != nil {
		return err
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType("open_id").
		Body(body).
		Build()

	resp, err := m.messages.Create(ctx, req)
	if err != nil {
		m.logger.Error("Failed to send message",
			zap.Int64("user_id", recipient.ID),
			zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}
	if !resp.Success() {
		m.logger.Error("API returned failure",
			zap.Int64("user_id", recipient.ID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	m.logger.Info("Message sent successfully",
		zap.String("message_id", messageID),
		zap.Int64("user_id", recipient.ID))
	return nil
}

// messageBody builds the im/v1 request body for a post message to openID
func messageBody(openID string, msg port.Message) (*larkim.CreateMessageReqBody, error) {
	content, err := postContent(msg)
	if err != nil {
		return nil, err
	}
	return larkim.NewCreateMessageReqBodyBuilder().
		ReceiveId(openID).
		MsgType("post").
		Content(content).
		Build(), nil
}

type postElement struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
	Href string `json:"href,omitempty"`
}

type postBody struct {
	Title   string          `json:"title"`
	Content [][]postElement `json:"content"`
}

// postContent renders msg as a "post" message body
func postContent(msg port.Message) (string, error) {
	body := postBody{
		Title:   msg.Title,
		Content: [][]postElement{{{Tag: "text", Text: msg.Body}}},
	}
	if msg.Link != "" {
		body.Content = append(body.Content, []postElement{{Tag: "a", Text: "Open approval", Href: msg.Link}})
	}

	data, err := json.Marshal(map[string]postBody{"en_us": body})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message content: %w", err)
	}
	return string(data), nil
}

var _ port.Notifier = (*Messenger)(nil)
