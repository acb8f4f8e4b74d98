package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"TruckGate/logger"
	"TruckGate/pipeline"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var inferSend bool

var inferCmd = &cobra.Command{
	Use:   "infer <image>...",
	Short: "Run the decision pipeline on image files and print the results",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.Log()
		a, err := newApp(cfg, log, appOptions{hardware: inferSend})
		if err != nil {
			return err
		}
		defer a.Close()
		return runInfer(cmd.Context(), a.pipeline, args, cmd.OutOrStdout(), log)
	},
}

func init() {
	inferCmd.Flags().BoolVar(&inferSend, "send", false, "send the decided command to the configured gate")
}

type imageProcessor interface {
	ProcessImage(ctx context.Context, data []byte) (*pipeline.Result, error)
}

type inferOutput struct {
	File   string           `json:"file"`
	Result *pipeline.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// runInfer processes every file even when some fail, and returns an error if
// any did.
func runInfer(ctx context.Context, p imageProcessor, files []string, out io.Writer, log *zap.Logger) error {
	ctx = pipeline.WithTransport(ctx, "cli")
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	failed := 0
	for _, f := range files {
		o := inferOutput{File: f}
		data, err := os.ReadFile(f)
		if err == nil {
			o.Result, err = p.ProcessImage(ctx, data)
		}
		if err != nil {
			failed++
			o.Error = err.Error()
			log.Warn("infer failed", zap.String("file", f), zap.Error(err))
		}
		if err := enc.Encode(o); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(files))
	}
	return nil
}
