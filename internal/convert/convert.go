package convert

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/MikeSquared-Agency/scribe/internal/dialogue"
)

const indent = "    "

// ConvertFile reads a diarized transcript from inputPath and converts it to a
// conversation record. With an outputPath the indented JSON is written there,
// replacing any existing file, and the returned string is empty. Without one
// the JSON is returned and nothing is written.
//
// File errors are returned as-is.
func ConvertFile(inputPath, assistantSpeaker, outputPath, systemContext string) (string, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return "", err
	}

	out, err := Marshal(dialogue.Process(string(data), assistantSpeaker, systemContext))
	if err != nil {
		return "", err
	}

	if outputPath == "" {
		return string(out), nil
	}
	if err := os.WriteFile(outputPath, out, 0o644); err != nil {
		return "", err
	}
	return "", nil
}

// Convert reads a transcript from r and writes the indented record to w.
func Convert(r io.Reader, w io.Writer, assistantSpeaker, systemContext string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	out, err := Marshal(dialogue.Process(string(data), assistantSpeaker, systemContext))
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// ConvertToFile reads a transcript from r and writes the indented record to
// outputPath. Close errors are reported.
func ConvertToFile(r io.Reader, outputPath, assistantSpeaker, systemContext string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	if err := Convert(r, f, assistantSpeaker, systemContext); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Marshal renders a conversation with four-space indentation and no trailing
// newline. HTML characters are written literally.
func Marshal(c dialogue.Conversation) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// AppendJSONL writes c as a single compact JSON line.
func AppendJSONL(w io.Writer, c dialogue.Conversation) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(c)
}
