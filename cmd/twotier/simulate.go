package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lex00/twotier-aws-go/internal/config"
	"github.com/lex00/twotier-aws-go/internal/simulate"
)

// scalingReport is the outcome of replaying a CPU series.
type scalingReport struct {
	Min     int              `json:"min"`
	Max     int              `json:"max"`
	Initial int              `json:"initial"`
	Final   int              `json:"final"`
	Periods []periodReport   `json:"periods"`
	Events  []simulate.Event `json:"events,omitempty"`
}

type periodReport struct {
	CPU      float64           `json:"cpu"`
	Capacity int               `json:"capacity"`
	Alarms   map[string]string `json:"alarms"`
}

func newSimulateCmd(opts *rootOptions) *cobra.Command {
	var (
		outputFormat string
		cpu          []float64
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a CPU series against the declared scaling alarms",
		Long: `Simulate feeds one average CPU value per alarm period to the declared
high and low CPU alarms and applies the scaling policies they trigger,
keeping capacity within the group bounds. Only the balanced variant scales.

Examples:
    twotier simulate -c env.yaml --cpu 10,10,1,1
    twotier simulate -c env.yaml --cpu 90,90,90 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			report, err := runSimulate(cfg, opts, cpu)
			if err != nil {
				return err
			}
			return outputSimulate(cmd.OutOrStdout(), report, outputFormat)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")
	cmd.Flags().Float64SliceVar(&cpu, "cpu", nil, "Average CPU utilization per period")

	return cmd
}

func runSimulate(cfg *config.Config, opts *rootOptions, cpu []float64) (*scalingReport, error) {
	if cfg.Variant != config.VariantBalanced {
		return nil, fmt.Errorf("variant %s has no autoscaling group", cfg.Variant)
	}
	log := opts.logger()
	defer func() { _ = log.Sync() }()

	_, env, err := declare(cfg, log)
	if err != nil {
		return nil, err
	}
	as, err := simulate.NewAutoscaler(env.Fleet)
	if err != nil {
		return nil, err
	}

	report := &scalingReport{Min: as.Min, Max: as.Max, Initial: as.Capacity}
	for _, v := range cpu {
		as.Observe(v)
		period := periodReport{CPU: v, Capacity: as.Capacity, Alarms: make(map[string]string, len(as.Alarms))}
		for _, a := range as.Alarms {
			period.Alarms[a.Name] = string(a.State())
		}
		report.Periods = append(report.Periods, period)
	}
	report.Final = as.Capacity
	report.Events = as.Events()
	log.Debugw("simulated scaling", "periods", len(cpu), "events", len(report.Events))
	return report, nil
}

func outputSimulate(w io.Writer, report *scalingReport, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "text":
		fmt.Fprintf(w, "Capacity %d (min %d, max %d)\n", report.Initial, report.Min, report.Max)
		events := report.Events
		for i, p := range report.Periods {
			fmt.Fprintf(w, "Period %d: cpu=%g capacity=%d\n", i, p.CPU, p.Capacity)
			for len(events) > 0 && events[0].Period == i {
				fmt.Fprintf(w, "  %s -> %s\n", events[0].Alarm, events[0].Policy)
				events = events[1:]
			}
		}
		fmt.Fprintf(w, "Final capacity: %d\n", report.Final)
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}
