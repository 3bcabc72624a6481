package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"panotour/server/internal/domain"
	"panotour/server/internal/geom"
	"panotour/server/internal/tour"
)

var validateCmd = &cobra.Command{
	Use:   "validate <tour-file>",
	Short: "Check a tour file for dangling links and malformed spots",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var (
	resolveScene     string
	resolveYaw       float64
	resolveDirection string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <tour-file>",
	Short: "Print the scene reached by moving in a direction from a scene and yaw",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveScene, "scene", "", "scene id to resolve from (required)")
	resolveCmd.Flags().Float64Var(&resolveYaw, "yaw", 0, "camera yaw in degrees")
	resolveCmd.Flags().StringVar(&resolveDirection, "direction", string(tour.Forward), "forward, backward, left or right")
	_ = resolveCmd.MarkFlagRequired("scene")
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := domain.LoadFile(args[0])
	if err != nil {
		return err
	}
	findings := domain.Validate(data)
	out := cmd.OutOrStdout()
	for _, f := range findings {
		fmt.Fprintln(out, f.String())
	}
	if domain.HasErrors(findings) {
		return errors.New("tour has errors")
	}
	fmt.Fprintf(out, "ok: %d scenes\n", len(data.Scenes))
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	data, err := domain.LoadFile(args[0])
	if err != nil {
		return err
	}
	dir, err := tour.ParseDirection(resolveDirection)
	if err != nil {
		return err
	}
	target, err := tour.ResolveIn(data, resolveScene, geom.Deg2Rad(resolveYaw), dir)
	if err != nil {
		return err
	}
	if target == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "no link")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), target)
	return nil
}
