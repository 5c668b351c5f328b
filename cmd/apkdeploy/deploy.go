package main

import (
	"github.com/spf13/cobra"

	"github.com/httprunner/apkdeploy/pkg/deploy"
)

func newDeployCmd(use, short string, typ deploy.Type) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cmd, typ)
			if err != nil {
				return err
			}
			defer s.Close()
			return report(s.deployer.Run(cmd.Context()))
		},
	}
}

func newDistributeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "distribute",
		Short: "Build a release apk signed with the given keystore into the dist dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range []string{"keystore", "dist-dir"} {
				if err := requireFlag(cmd, name); err != nil {
					return err
				}
			}
			s, err := openSession(cmd.Context(), cmd, deploy.Production)
			if err != nil {
				return err
			}
			defer s.Close()
			return report(s.deployer.Run(cmd.Context()))
		},
	}
	cmd.Flags().String("keystore", "", "Release keystore")
	cmd.Flags().String("storepass", "tirocks", "Keystore password")
	cmd.Flags().String("alias", "tidev", "Key alias")
	cmd.Flags().String("dist-dir", "", "Output directory for the signed apk")
	return cmd
}
