package llmclient

import (
	"testing"

	"chatdesk/web/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestBuildGeminiContents(t *testing.T) {
	contents, err := buildGeminiContents(StreamRequest{
		History: []*types.Message{
			{Role: types.RoleUser, Text: "hi"},
			{Role: types.RoleModel, Text: "Generating image..."},
			{Role: types.RoleModel, Text: "   "},
		},
		Prompt: "describe",
		Image:  "data:image/jpeg;base64,aGVsbG8=",
	})
	require.NoError(t, err)
	require.Len(t, contents, 3)

	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)

	last := contents[2]
	assert.Equal(t, "user", last.Role)
	require.Len(t, last.Parts, 2)
	require.NotNil(t, last.Parts[0].InlineData)
	assert.Equal(t, "image/jpeg", last.Parts[0].InlineData.MIMEType)
	assert.Equal(t, []byte("hello"), last.Parts[0].InlineData.Data)
	assert.Equal(t, "describe", last.Parts[1].Text)
}

func TestBuildGeminiContentsErrors(t *testing.T) {
	_, err := buildGeminiContents(StreamRequest{})
	assert.Error(t, err)

	_, err = buildGeminiContents(StreamRequest{Image: "data:image/png,plain"})
	assert.Error(t, err)
}

func TestImageFromResponse(t *testing.T) {
	tests := []struct {
		name    string
		resp    *genai.GenerateContentResponse
		want    string
		wantErr bool
	}{
		{
			name: "inline image after text",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				Content: genai.NewContentFromParts([]*genai.Part{
					genai.NewPartFromText("here you go"),
					genai.NewPartFromBytes([]byte("hello"), "image/png"),
				}, genai.RoleModel),
			}}},
			want: "data:image/png;base64,aGVsbG8=",
		},
		{
			name: "text only",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				Content: genai.NewContentFromText("I cannot draw that", genai.RoleModel),
			}}},
			wantErr: true,
		},
		{name: "nil", resp: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := imageFromResponse(tt.resp)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModelsForMode(t *testing.T) {
	m := Models{Chat: "c", Coding: "k", Image: "i"}
	assert.Equal(t, "c", m.ForMode(types.ModeChat))
	assert.Equal(t, "k", m.ForMode(types.ModeCoding))
	assert.Equal(t, "c", m.ForMode(types.ModeImage))
}
