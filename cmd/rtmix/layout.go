package main

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"pipelined.dev/rtmix/config"
	"pipelined.dev/rtmix/shm"
)

func newLayoutCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "layout",
		Short: "Print the shared segment layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderLayout(cfg))
			return nil
		},
	}
}

func renderLayout(cfg config.Config) string {
	l := shm.Layout{
		Channels:  cfg.Channels,
		BlockSize: cfg.BlockSize(),
		SlotCount: cfg.BufferCount,
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle(fmt.Sprintf("%d slots of %d bytes, %v cadence", l.SlotCount, l.SlotSize(), cfg.AudioInterval()))

	header := table.Row{"Slot", "Offset"}
	for c := 0; c < l.Channels; c++ {
		header = append(header, "Channel "+strconv.Itoa(c))
	}
	tw.AppendHeader(header)
	for slot := 0; slot < l.SlotCount; slot++ {
		offset := slot * l.SlotSize()
		row := table.Row{slot, offset}
		for c := 0; c < l.Channels; c++ {
			row = append(row, offset+l.PlaneOffset(c))
		}
		tw.AppendRow(row)
	}
	tw.AppendFooter(table.Row{"Total", l.Size()})

	configs := make([]table.ColumnConfig, 0, l.Channels+2)
	for i := 0; i < l.Channels+2; i++ {
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       text.AlignRight,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}
