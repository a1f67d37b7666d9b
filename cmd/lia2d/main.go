// Command lia2d runs a 2D inertial surface-water flow simulation from an
// ini scenario file, reporting progress on the terminal.
//
// Flag/config wiring is grounded on spatialmodel-inmap's inmaputil/cmd.go
// (a viper.Viper bound to cobra pflags with an env prefix); the run-loop
// progress bar is grounded on the teacher's evaluate.go, which drives a
// uiprogress.Bar from a channel fed once per timestep.
package main

import (
	"context"
	"fmt"

	"github.com/gosuri/uiprogress"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/maseology/lia2d/config"
	"github.com/maseology/lia2d/core"
	"github.com/maseology/lia2d/live"
)

var cfg = viper.New()

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lia2d",
		Short: "2D local-inertial surface-water flow solver",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "run a scenario to completion",
		RunE:  runScenario,
	}
	run.Flags().String("scenario", "", "path to the scenario ini file")
	run.Flags().String("checkpoint-out", "", "optional path to write a final checkpoint")
	run.Flags().String("record-out", "", "optional path to write a per-record accumulator CSV")
	run.Flags().String("live-addr", "", "optional host:port to broadcast h/v/fr snapshots over websocket at each record boundary")
	run.Flags().Bool("verbose", false, "enable debug logging")
	cfg.BindPFlags(run.Flags())
	cfg.SetEnvPrefix("LIA2D")
	cfg.AutomaticEnv()

	root.AddCommand(run)
	return root
}

func runScenario(cmd *cobra.Command, args []string) error {
	if cfg.GetBool("verbose") {
		log.SetLevel(log.DebugLevel)
	}

	scenarioFP := cfg.GetString("scenario")
	if scenarioFP == "" {
		return fmt.Errorf("lia2d: --scenario is required")
	}

	sc, err := config.Load(scenarioFP)
	if err != nil {
		return err
	}

	m, err := core.New(sc.Options())
	if err != nil {
		return err
	}
	log.WithField("run_id", m.RunID()).Info("starting run")

	var rec *config.RecordWriter
	if out := cfg.GetString("record-out"); out != "" {
		rec, err = config.NewRecordWriter(out)
		if err != nil {
			return err
		}
		defer rec.Close()
	}

	var hub *live.Hub
	if addr := cfg.GetString("live-addr"); addr != "" {
		hub = live.NewHub()
		stop := make(chan struct{})
		go hub.Run(stop)
		defer close(stop)
		go func() {
			if err := hub.ListenAndServe(addr); err != nil {
				log.WithError(err).Error("live: server stopped")
			}
		}()
		log.WithField("addr", addr).Info("live: broadcasting at ws://" + addr + "/ws")
	}

	uiprogress.Start()
	defer uiprogress.Stop()

	nRecords := int((sc.TEnd - sc.T0) / sc.DtRecord)
	if nRecords < 1 {
		nRecords = 1
	}
	bar := uiprogress.AddBar(nRecords).AppendCompleted().PrependElapsed()
	tick := make(chan string, 1)
	bar.PrependFunc(func(b *uiprogress.Bar) string {
		select {
		case s := <-tick:
			return s
		default:
			return ""
		}
	})

	ctx := context.Background()
	t := sc.T0
	for t < sc.TEnd {
		until := t + sc.DtRecord
		if until > sc.TEnd {
			until = sc.TEnd
		}
		rep, err := m.Advance(ctx, t, until)
		if err != nil {
			return fmt.Errorf("lia2d: advance [%g,%g]: %w", t, until, err)
		}
		t = until
		if rec != nil {
			rec.Write(t, rep)
		}
		if hub != nil {
			broadcastFields(hub, m, sc, t)
		}
		select {
		case tick <- fmt.Sprintf("t=%.1fs (%d substeps, min dt=%.4g)", t, rep.Substeps, rep.MinDt):
		default:
		}
		bar.Incr()
	}

	if out := cfg.GetString("checkpoint-out"); out != "" {
		if err := config.SaveCheckpoint(out, t, m.Snapshot()); err != nil {
			return err
		}
	}

	log.WithField("run_id", m.RunID()).Info("run complete")
	return nil
}

// broadcastFields publishes h, v, and fr as separate live.Snapshots at a
// record boundary, per SPEC_FULL §10.
func broadcastFields(hub *live.Hub, m *core.Model, sc config.Scenario, t float64) {
	for _, field := range []string{"h", "v", "fr"} {
		arr, err := m.GetField(field)
		if err != nil {
			log.WithError(err).WithField("field", field).Warn("live: skipping snapshot")
			continue
		}
		hub.Broadcast(live.Snapshot{
			RunID:  m.RunID(),
			T:      t,
			Field:  field,
			R:      sc.Grid.R,
			C:      sc.Grid.C,
			Values: arr,
		})
	}
}
