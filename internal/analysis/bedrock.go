package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/raphaelgruber/intake/internal/models"
)

// ConverseAPI is the part of the Bedrock runtime client used here.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock is a Generator over the Bedrock Converse API.
type Bedrock struct {
	client  ConverseAPI
	modelID string
}

// NewBedrock creates a Bedrock generator for modelID.
func NewBedrock(client ConverseAPI, modelID string) *Bedrock {
	return &Bedrock{client: client, modelID: modelID}
}

// Model returns the Bedrock model id.
func (b *Bedrock) Model() string {
	return b.modelID
}

// Generate sends one Converse turn.
func (b *Bedrock) Generate(ctx context.Context, req Request) (*Response, error) {
	blocks := []types.ContentBlock{&types.ContentBlockMemberText{Value: req.Prompt}}
	if req.Attachment != nil {
		block, err := attachmentBlock(req.Attachment)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.modelID),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: blocks,
		}},
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(float32(req.Temperature)),
		},
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 {
		input.InferenceConfig.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}

	out, err := b.client.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse: %w", err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, fmt.Errorf("bedrock converse: unexpected output type %T", out.Output)
	}
	var text strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			text.WriteString(t.Value)
		}
	}

	resp := &Response{Text: text.String(), Model: b.modelID}
	if out.Usage != nil {
		resp.Usage = models.Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	return resp, nil
}

func attachmentBlock(a *Attachment) (types.ContentBlock, error) {
	// Document names are restricted to a small character set.
	const name = "artifact"

	switch a.MIMEType {
	case "application/pdf":
		return documentBlock(name, types.DocumentFormatPdf, a.Data), nil
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return documentBlock(name, types.DocumentFormatDocx, a.Data), nil
	case "text/plain":
		return documentBlock(name, types.DocumentFormatTxt, a.Data), nil
	case "video/mp4":
		return videoBlock(types.VideoFormatMp4, a.Data), nil
	case "video/quicktime":
		return videoBlock(types.VideoFormatMov, a.Data), nil
	case "video/webm":
		return videoBlock(types.VideoFormatWebm, a.Data), nil
	default:
		return nil, fmt.Errorf("bedrock: %s attachments are not supported", a.MIMEType)
	}
}

func documentBlock(name string, format types.DocumentFormat, data []byte) types.ContentBlock {
	return &types.ContentBlockMemberDocument{Value: types.DocumentBlock{
		Format: format,
		Name:   aws.String(name),
		Source: &types.DocumentSourceMemberBytes{Value: data},
	}}
}

func videoBlock(format types.VideoFormat, data []byte) types.ContentBlock {
	return &types.ContentBlockMemberVideo{Value: types.VideoBlock{
		Format: format,
		Source: &types.VideoSourceMemberBytes{Value: data},
	}}
}
