// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package cli

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/model"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/settings"
)

// Migrate creates the appliance table and applies pending migrations
func Migrate(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the appliance registry schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := Open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.DB.Migrate(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "appliance registry is up to date")
			return err
		},
	}
}

// Appliance groups the registry inspection commands
func Appliance(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appliance",
		Short: "Inspect and clean up appliance registry entries",
	}

	cmd.AddCommand(applianceGet(opts))
	cmd.AddCommand(applianceList(opts))
	cmd.AddCommand(applianceDelete(opts))

	return cmd
}

func applianceGet(opts *Options) *cobra.Command {
	var loadBalancerID, projectID string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show the appliance of a load balancer or project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (loadBalancerID == "") == (projectID == "") {
				return fmt.Errorf("exactly one of --loadbalancer or --project is required")
			}

			rt, err := Open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			var a *model.Appliance
			if loadBalancerID != "" {
				a, err = rt.Registry.GetByLoadBalancer(cmd.Context(), loadBalancerID)
			} else {
				a, err = rt.Registry.GetByProject(cmd.Context(), projectID)
			}
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), toView(*a))
		},
	}

	cmd.Flags().StringVar(&loadBalancerID, "loadbalancer", "", "Load balancer id")
	cmd.Flags().StringVar(&projectID, "project", "", "Project id; the most recent appliance is shown")

	return cmd
}

func applianceList(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every appliance entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := Open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			all, err := rt.Registry.List(cmd.Context())
			if err != nil {
				return err
			}
			views := make([]applianceView, 0, len(all))
			for _, a := range all {
				views = append(views, toView(a))
			}
			return writeYAML(cmd.OutOrStdout(), views)
		},
	}
}

func applianceDelete(opts *Options) *cobra.Command {
	var loadBalancerID string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the appliance entry of a load balancer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := Open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			d, err := rt.Driver(cmd.Context(), prometheus.NewRegistry())
			if err != nil {
				return err
			}
			if err := d.DeleteLoadBalancer(cmd.Context(), &model.LoadBalancer{ID: loadBalancerID}); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted appliance entry of load balancer %s\n", loadBalancerID)
			return err
		},
	}

	cmd.Flags().StringVar(&loadBalancerID, "loadbalancer", "", "Load balancer id")
	_ = cmd.MarkFlagRequired("loadbalancer")

	return cmd
}

// Compute prints the compute instance behind a project's appliance
func Compute(opts *Options) *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Show the compute instance backing a project's appliance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := Open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			d, err := rt.Driver(cmd.Context(), prometheus.NewRegistry())
			if err != nil {
				return err
			}
			id, err := d.ComputeForProject(cmd.Context(), &model.LoadBalancer{ProjectID: projectID})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "Project id")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

// Tunables validates INI tunables files without touching the database
func Tunables(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tunables",
		Short: "Work with vendor tunables files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check [file...]",
		Short: "Resolve the listener and appliance defaults from tunables files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := make([]interface{}, 0, len(args))
			for _, a := range args {
				sources = append(sources, a)
			}
			st, err := settings.Load(sources...)
			if err != nil {
				return err
			}
			l, err := st.ListenerSettings()
			if err != nil {
				return err
			}
			defaults, err := st.ApplianceDefaults()
			if err != nil {
				return err
			}

			view := tunablesView{
				Listener:     *l,
				Username:     defaults.Username,
				AXAPIVersion: defaults.AXAPIVersion,
			}
			if l.ConnLimit != nil {
				limit, clamped := settings.ClampConnLimit(*l.ConnLimit)
				if clamped {
					opts.Log.Info("conn_limit out of range, using maximum", "configured", *l.ConnLimit, "max", settings.MaxConnLimit)
				}
				view.EffectiveConnLimit = &limit
			}
			return writeYAML(cmd.OutOrStdout(), view)
		},
	})

	return cmd
}

// Version prints the build version
func Version(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the driver version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

// applianceView is the printed form of an appliance; credentials are omitted
type applianceView struct {
	ApplianceID    string `yaml:"applianceID"`
	DeviceName     string `yaml:"deviceName"`
	IPAddress      string `yaml:"ipAddress"`
	AXAPIVersion   int    `yaml:"axapiVersion"`
	Undercloud     bool   `yaml:"undercloud"`
	LoadBalancerID string `yaml:"loadBalancerID,omitempty"`
	ProjectID      string `yaml:"projectID,omitempty"`
	AmphoraID      string `yaml:"amphoraID,omitempty"`
	ComputeID      string `yaml:"computeID,omitempty"`
}

func toView(a model.Appliance) applianceView {
	return applianceView{
		ApplianceID:    a.ApplianceID,
		DeviceName:     a.DeviceName,
		IPAddress:      a.IPAddress,
		AXAPIVersion:   a.AXAPIVersion,
		Undercloud:     a.Undercloud,
		LoadBalancerID: model.StringValue(a.LoadBalancerID),
		ProjectID:      model.StringValue(a.ProjectID),
		AmphoraID:      model.StringValue(a.AmphoraID),
		ComputeID:      model.StringValue(a.ComputeID),
	}
}

type tunablesView struct {
	Listener           settings.Listener `yaml:"listener"`
	EffectiveConnLimit *int              `yaml:"effectiveConnLimit,omitempty"`
	Username           string            `yaml:"username"`
	AXAPIVersion       int               `yaml:"axapiVersion"`
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}
