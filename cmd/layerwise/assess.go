package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aristath/layerwise/internal/modules/rebalancing"
	"github.com/aristath/layerwise/internal/report"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type assessOptions struct {
	format   string
	profile  string
	currency string
	plain    bool
}

func newAssessCmd(a *app) *cobra.Command {
	opts := &assessOptions{}
	cmd := &cobra.Command{
		Use:   "assess <request-file>",
		Short: "Run an allocation assessment",
		Long: `Run the full allocation pipeline for the saving plans in a request file.

The request is read as YAML when the file ends in .yaml or .yml and as JSON
otherwise. Use "-" to read JSON from standard input.

Examples:
  layerwise assess plans.yaml
  layerwise assess --profile growth --format json plans.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAssess(cmd.InOrStdin(), args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.format, "format", "f", "markdown", "output format: markdown or json")
	cmd.Flags().StringVarP(&opts.profile, "profile", "p", "", "allocation profile (overrides the request and LAYERWISE_PROFILE)")
	cmd.Flags().StringVar(&opts.currency, "currency", report.DefaultCurrency, "currency used to display amounts")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "print Markdown source instead of rendering it")
	return cmd
}

func (a *app) runAssess(stdin io.Reader, path string, opts *assessOptions) error {
	format := strings.ToLower(opts.format)
	if format != "markdown" && format != "json" {
		return fmt.Errorf("unknown format %q", opts.format)
	}

	req, err := readRequest(stdin, path)
	if err != nil {
		return err
	}
	switch {
	case opts.profile != "":
		req.Profile = opts.profile
	case req.Profile == "":
		req.Profile = a.cfg.Profile
	}

	container, _, err := a.wire()
	if err != nil {
		return err
	}
	defer container.Close()

	result, err := container.Assessor.Assess(req)
	if err != nil {
		return fmt.Errorf("assessment failed: %w", err)
	}

	if format == "json" {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return a.printMarkdown(report.String(result, opts.currency), opts.plain)
}

// readRequest decodes an assessment request from path. YAML documents are
// converted to JSON first so both formats share the JSON field names.
func readRequest(stdin io.Reader, path string) (rebalancing.AssessmentRequest, error) {
	var req rebalancing.AssessmentRequest

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return req, fmt.Errorf("read request: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return req, fmt.Errorf("parse request: %w", err)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("parse request: %w", err)
	}
	return req, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(jsonCompatible(doc))
}

// jsonCompatible turns YAML maps with non-string keys, such as layer
// numbers, into string-keyed maps.
func jsonCompatible(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, item := range t {
			t[k] = jsonCompatible(item)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = jsonCompatible(item)
		}
		return out
	case []interface{}:
		for i, item := range t {
			t[i] = jsonCompatible(item)
		}
		return t
	default:
		return v
	}
}
