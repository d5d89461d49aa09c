package model

// Fragment is one normalized unit of model output. Payload kinds are not
// mutually exclusive on the wire, so every member is optional; a fragment
// with no member set is empty and must not be appended to a snapshot.
type Fragment struct {
	Text                string               `json:"text,omitempty"`
	ExecutableCode      *ExecutableCode      `json:"executableCode,omitempty"`
	CodeExecutionResult *CodeExecutionResult `json:"codeExecutionResult,omitempty"`
	InlineData          *InlineData          `json:"inlineData,omitempty"`
	FileData            *FileData            `json:"fileData,omitempty"`
	CostData            *CostData            `json:"costData,omitempty"`
}

// IsEmpty reports whether the fragment carries no recognized payload.
func (f Fragment) IsEmpty() bool {
	return f.Text == "" &&
		f.ExecutableCode == nil &&
		f.CodeExecutionResult == nil &&
		f.InlineData == nil &&
		f.FileData == nil &&
		f.CostData == nil
}

// ExecutableCode is code the model produced for the code-execution tool.
type ExecutableCode struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// CodeExecutionResult is the outcome of running model-produced code.
type CodeExecutionResult struct {
	Outcome string `json:"outcome"`
	Output  string `json:"output"`
}

// InlineData is a binary artifact (e.g. a chart) carried inline, base64 encoded.
type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// FileData is a remote-file reference resolved during normalization.
// Exactly one of {Data+Name, Error} is ever populated: Data and Name on a
// successful fetch, Error (with the original FileURI) on failure.
type FileData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data,omitempty"`
	Name     string `json:"name,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
	Error    string `json:"error,omitempty"`
}
