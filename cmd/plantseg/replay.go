package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lorenzocerrone/plant-seg/ops"
	"github.com/lorenzocerrone/plant-seg/pipeline"
	"github.com/lorenzocerrone/plant-seg/pseg"
)

// replayCmd recomputes one target layer of an exported workflow from raw
// input layer files, without a running server.
var replayCmd = &cobra.Command{
	Use:   "replay <workflow.json>",
	Short: "Replay an exported workflow against raw input layers",
	Long: `Replay reads an exported workflow document, loads the named input
layers from JSON files, and recomputes the requested target layer by
running the minimal subgraph of recorded steps.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		if target == "" {
			return fmt.Errorf("--target is required")
		}
		inputSpecs, _ := cmd.Flags().GetStringArray("input")
		outPath, _ := cmd.Flags().GetString("output")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("unable to read workflow: %v", err)
		}
		wf, err := pipeline.DecodeWorkflow(data)
		if err != nil {
			return err
		}

		inputs := make(map[string]pipeline.Layer, len(inputSpecs))
		for _, spec := range inputSpecs {
			name, path, found := strings.Cut(spec, "=")
			if !found {
				return fmt.Errorf("input %q must have the form name=file.json", spec)
			}
			layer, err := readLayerFile(path)
			if err != nil {
				return fmt.Errorf("input %q: %v", name, err)
			}
			inputs[name] = layer
		}

		reg := pipeline.NewRegistry()
		if err := ops.RegisterAll(reg); err != nil {
			return err
		}

		timelog := pseg.NewTimeLog()
		out, err := pipeline.Replay(wf, target, inputs, reg)
		if err != nil {
			return err
		}
		timelog.Infof("replayed workflow target %q", target)

		if outPath == "" {
			outPath = target + ".json"
		}
		return writeLayerFile(outPath, target, out)
	},
}

func readLayerFile(path string) (pipeline.Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Layer{}, err
	}
	var doc pipeline.LayerDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return pipeline.Layer{}, fmt.Errorf("not a valid layer file: %v", err)
	}
	return doc.ToLayer()
}

func writeLayerFile(path, name string, layer pipeline.Layer) error {
	data, err := json.MarshalIndent(pipeline.DocFromLayer(name, layer), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().String("target", "", "Layer name to recompute")
	replayCmd.Flags().StringArray("input", nil, "Raw input layer as name=file.json (repeatable)")
	replayCmd.Flags().String("output", "", "Output file (defaults to <target>.json)")
}
