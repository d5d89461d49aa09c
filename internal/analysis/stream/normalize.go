package stream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/finlens-poc/server/internal/analysis/gemini"
	"github.com/finlens-poc/server/internal/analysis/model"
	logx "github.com/finlens-poc/server/pkg/logger"
)

const fallbackFileName = "downloaded_file"

// Normalizer converts raw response parts into canonical fragments, resolving
// remote-file references through the file store.
type Normalizer struct {
	files gemini.FileStore
}

func NewNormalizer(files gemini.FileStore) *Normalizer {
	return &Normalizer{files: files}
}

// Part maps one response part to a fragment, copying through whichever
// payloads are present. The result is empty when the part carries nothing
// recognized; callers must skip empty fragments.
func (n *Normalizer) Part(ctx context.Context, part *genai.Part) model.Fragment {
	var frag model.Fragment

	if part.Text != "" {
		frag.Text = part.Text
	}

	if part.ExecutableCode != nil {
		frag.ExecutableCode = &model.ExecutableCode{
			Language: string(part.ExecutableCode.Language),
			Code:     part.ExecutableCode.Code,
		}
	}

	if part.CodeExecutionResult != nil {
		frag.CodeExecutionResult = &model.CodeExecutionResult{
			Outcome: string(part.CodeExecutionResult.Outcome),
			Output:  part.CodeExecutionResult.Output,
		}
	}

	if part.InlineData != nil {
		frag.InlineData = &model.InlineData{
			MIMEType: part.InlineData.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(part.InlineData.Data),
		}
	}

	if part.FileData != nil {
		frag.FileData = n.resolveFileData(ctx, part.FileData)
	}

	return frag
}

// resolveFileData fetches the referenced file's bytes out-of-band. Failures
// degrade to an error-marked fragment so the stream keeps making progress;
// the error marker distinguishes transport failures from everything else.
func (n *Normalizer) resolveFileData(ctx context.Context, ref *genai.FileData) *model.FileData {
	file, err := n.files.Lookup(ctx, ref.FileURI)
	if err != nil {
		return n.fileDataError(ref, err)
	}

	name := file.DisplayName
	if name == "" {
		name = fallbackFileName
	}

	data, err := n.files.Fetch(ctx, file)
	if err != nil {
		return n.fileDataError(ref, err)
	}

	return &model.FileData{
		MIMEType: ref.MIMEType,
		Data:     base64.StdEncoding.EncodeToString(data),
		Name:     name,
	}
}

func (n *Normalizer) fileDataError(ref *genai.FileData, err error) *model.FileData {
	marker := "Processing error"
	if errors.Is(err, gemini.ErrNetwork) {
		marker = "Network error"
	}
	logx.Error().Err(err).Str("fileUri", ref.FileURI).Msg("failed to resolve referenced file")

	return &model.FileData{
		MIMEType: ref.MIMEType,
		FileURI:  ref.FileURI,
		Error:    fmt.Sprintf("%s: %v", marker, err),
	}
}
