package lark

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
)

type fakeMessages struct {
	reqs []*larkim.CreateMessageReq
	resp *larkim.CreateMessageResp
	err  error
}

func (f *fakeMessages) Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func okResponse(id string) *larkim.CreateMessageResp {
	return &larkim.CreateMessageResp{
		Data: &larkim.CreateMessageRespData{MessageId: &id},
	}
}

func TestMessengerNotify(t *testing.T) {
	api := &fakeMessages{resp: okResponse("om_1")}
	m := NewMessengerWithAPI(api, zap.NewNop())

	user := &entity.User{ID: 7, Name: "Dana", LarkOpenID: "ou_dana"}
	msg := port.Message{Title: "Approval required", Body: `eoi "Cleaning"`, Link: "https://x/approvals/3"}
	require.NoError(t, m.Notify(context.Background(), user, msg))

	require.Len(t, api.reqs, 1)
	require.NotNil(t, api.reqs[0])
}

func TestMessageBody(t *testing.T) {
	msg := port.Message{Title: "Approval required", Body: `eoi "Cleaning"`, Link: "https://x/approvals/3"}
	body, err := messageBody("ou_dana", msg)
	require.NoError(t, err)

	require.NotNil(t, body.ReceiveId)
	assert.Equal(t, "ou_dana", *body.ReceiveId)
	require.NotNil(t, body.MsgType)
	assert.Equal(t, "post", *body.MsgType)
	require.NotNil(t, body.Content)

	var content map[string]postBody
	require.NoError(t, json.Unmarshal([]byte(*body.Content), &content))
	post := content["en_us"]
	assert.Equal(t, "Approval required", post.Title)
	require.Len(t, post.Content, 2)
	assert.Equal(t, `eoi "Cleaning"`, post.Content[0][0].Text)
	assert.Equal(t, "https://x/approvals/3", post.Content[1][0].Href)
}

func TestMessageBodyWithoutLink(t *testing.T) {
	body, err := messageBody("ou_dana", port.Message{Title: "t", Body: "b"})
	require.NoError(t, err)

	var content map[string]postBody
	require.NoError(t, json.Unmarshal([]byte(*body.Content), &content))
	assert.Len(t, content["en_us"].Content, 1)
}

func TestMessengerSkipsUsersWithoutLarkAccount(t *testing.T) {
	api := &fakeMessages{resp: okResponse("om_1")}
	m := NewMessengerWithAPI(api, zap.NewNop())

	err := m.Notify(context.Background(), &entity.User{ID: 1}, port.Message{Title: "t", Body: "b"})
	assert.NoError(t, err)
	assert.Empty(t, api.reqs)
}

func TestMessengerErrors(t *testing.T) {
	user := &entity.User{ID: 7, LarkOpenID: "ou_dana"}
	msg := port.Message{Title: "t", Body: "b"}

	m := NewMessengerWithAPI(&fakeMessages{err: errors.New("timeout")}, zap.NewNop())
	assert.Error(t, m.Notify(context.Background(), user, msg))

	failed := &larkim.CreateMessageResp{CodeError: larkcore.CodeError{Code: 230002, Msg: "bot not in chat"}}
	m = NewMessengerWithAPI(&fakeMessages{resp: failed}, zap.NewNop())
	err := m.Notify(context.Background(), user, msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "230002")
}
