package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/igolaizola/sunoprompt/pkg/eventstream"
	"github.com/igolaizola/sunoprompt/pkg/music"
)

type AnalyzeOptions struct {
	SelectedGenre string
	ModelQuality  string
	DemucsModel   string
	SaveVocals    bool
}

func (o *AnalyzeOptions) fields() map[string]string {
	if o == nil {
		return nil
	}
	fields := map[string]string{
		"save_vocals": strconv.FormatBool(o.SaveVocals),
	}
	if o.SelectedGenre != "" {
		fields["selected_genre"] = o.SelectedGenre
	}
	if o.ModelQuality != "" {
		fields["model_quality"] = o.ModelQuality
	}
	if o.DemucsModel != "" {
		fields["demucs_model"] = o.DemucsModel
	}
	return fields
}

// Preprocess uploads the audio file and returns its metadata.
func (c *Client) Preprocess(ctx context.Context, path string) (*music.Preprocessed, error) {
	resp, err := c.upload(ctx, "preprocess", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: couldn't read preprocess response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp.StatusCode, b)
	}
	if msg := serverError(b); msg != "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	var out music.Preprocessed
	if err := jsonUnmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Analyze uploads the audio file and reads the analysis progress stream.
// fn is called for every progress event, the final result is returned.
func (c *Client) Analyze(ctx context.Context, path string, opts *AnalyzeOptions, fn func(music.ProgressEvent)) (*music.AnalysisResult, error) {
	resp, err := c.upload(ctx, "analyze", path, opts.fields())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, parseError(resp.StatusCode, b)
	}
	return ReadAnalysis(resp.Body, fn)
}

// ReadAnalysis consumes an analysis progress stream until its terminal event.
// Progress never goes backwards, a lower value is reported as the last one
// seen.
func ReadAnalysis(r io.Reader, fn func(music.ProgressEvent)) (*music.AnalysisResult, error) {
	reader := eventstream.NewReader(r)
	var last float64
	for {
		var ev music.ProgressEvent
		err := reader.Decode(&ev)
		if errors.Is(err, io.EOF) {
			return nil, ErrNoResult
		}
		if errors.Is(err, eventstream.ErrNoData) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("client: couldn't read analysis stream: %w", err)
		}
		switch ev.Kind() {
		case music.ErrorKind:
			return nil, &APIError{StatusCode: http.StatusOK, Message: ev.Error}
		case music.ResultKind:
			return ev.Result, nil
		default:
			if ev.Progress < last {
				ev.Progress = last
			}
			last = ev.Progress
			if fn != nil {
				fn(ev)
			}
		}
	}
}

// upload sends the file as the multipart "audio" field. The body is streamed
// from disk.
func (c *Client) upload(ctx context.Context, path, file string, fields map[string]string) (*http.Response, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("client: couldn't open %s: %w", file, err)
	}
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer f.Close()
		for k, v := range fields {
			if err := mw.WriteField(k, v); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		part, err := mw.CreateFormFile("audio", filepath.Base(file))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()
	c.logger.Debug("upload", "path", path, "file", file)
	resp, err := c.send(ctx, http.MethodPost, path, pr, mw.FormDataContentType())
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	return resp, nil
}
