package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabBoard/backend/internal/collab"
)

func TestDecodeChangeOperationPayload(t *testing.T) {
	raw := json.RawMessage(`{
		"operationId": "op-1",
		"baseVersion": 7,
		"opType": "move",
		"targetWidgetId": "w1",
		"clientId": "c1",
		"clientSeq": 3,
		"pos": {"x": 10, "y": 20}
	}`)

	p, err := decodePayload[ChangeOperationPayload](raw)
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	op := p.toOperation(42)
	assert.Equal(t, uint64(42), op.AuthorID)
	assert.Equal(t, collab.OpMove, op.Type)
	assert.Equal(t, uint64(7), op.BaseVersion)
	assert.Equal(t, &collab.Position{X: 10, Y: 20}, op.Pos)
}

func TestDecodePayloadRejectsUnknownFields(t *testing.T) {
	raw := json.RawMessage(`{"baseVersion": 1, "opType": "delete", "targetWidgetId": "w1", "bogus": true}`)
	_, err := decodePayload[ChangeOperationPayload](raw)
	assert.Error(t, err)
}

func TestDecodePayloadMissing(t *testing.T) {
	_, err := decodePayload[ChangeOperationPayload](nil)
	assert.Error(t, err)
}

func TestChangeOperationValidation(t *testing.T) {
	cases := []struct {
		name    string
		payload ChangeOperationPayload
		wantErr bool
	}{
		{"delete needs only target", ChangeOperationPayload{OpType: collab.OpDelete, WidgetID: "w1"}, false},
		{"missing widget id", ChangeOperationPayload{OpType: collab.OpDelete}, true},
		{"move without pos", ChangeOperationPayload{OpType: collab.OpMove, WidgetID: "w1"}, true},
		{"resize without size", ChangeOperationPayload{OpType: collab.OpResize, WidgetID: "w1"}, true},
		{"update without fields", ChangeOperationPayload{OpType: collab.OpUpdate, WidgetID: "w1"}, true},
		{"add without spec", ChangeOperationPayload{OpType: collab.OpAdd, WidgetID: "w1"}, true},
		{"unknown type", ChangeOperationPayload{OpType: "rotate", WidgetID: "w1"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.payload.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCommentCreateValidation(t *testing.T) {
	ok := CommentCreatePayload{TargetType: "widget", TargetID: "w1", Body: "looks off"}
	assert.NoError(t, ok.Validate())

	assert.Error(t, CommentCreatePayload{TargetType: "chart", TargetID: "w1", Body: "x"}.Validate())
	assert.Error(t, CommentCreatePayload{TargetType: "widget", Body: "x"}.Validate())
	assert.Error(t, CommentCreatePayload{TargetType: "dashboard", TargetID: "d1"}.Validate())
}

func TestCommentUpdateValidation(t *testing.T) {
	body := "edited"
	assert.NoError(t, CommentUpdatePayload{CommentID: "c1", Body: &body}.Validate())
	assert.NoError(t, CommentUpdatePayload{CommentID: "c1", Resolve: true}.Validate())
	assert.Error(t, CommentUpdatePayload{CommentID: "c1"}.Validate())
	assert.Error(t, CommentUpdatePayload{Resolve: true}.Validate())
}
