package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cheewill/detectengine/internal/detect"
	"github.com/cheewill/detectengine/internal/detectconfig"
)

var (
	validateConfigFile string
	validateMatcher    string
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Resolve and print the detection-engine profile and limits without building a snapshot",
	Long: `Loads a config file the way the engine would at reload time and reports
the resolved profile, group limits, recursion limit and SGH MPM context.
Fallback warnings (e.g. unparsable custom group values) are printed but do
not fail validation; structural errors do.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		v := viper.New()
		if validateConfigFile != "" {
			v.SetConfigFile(validateConfigFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("reading config: %w", err)
			}
		}

		tree := detectconfig.LoadTree(v)
		if err := tree.Validate(); err != nil {
			return err
		}

		cfg, warnings, err := detectconfig.Load(v, "", validateMatcher, false)
		if err != nil {
			return err
		}

		for _, w := range warnings {
			fmt.Printf("warning: %s\n", w)
		}

		fmt.Printf("profile:                %s\n", cfg.Profile)
		fmt.Printf("sgh-mpm-context:        %s\n", cfg.SGHMPMContext)
		fmt.Printf("mpm matcher:            %s\n", cfg.MPMMatcher)
		if cfg.RecursionLimit == detect.UnboundedRecursionLimit {
			fmt.Printf("recursion limit:        unbounded\n")
		} else {
			fmt.Printf("recursion limit:        %d\n", cfg.RecursionLimit)
		}
		fmt.Printf("toclient groups:        src=%d dst=%d sp=%d dp=%d\n",
			cfg.Limits.ToClientSrc, cfg.Limits.ToClientDst, cfg.Limits.ToClientSP, cfg.Limits.ToClientDP)
		fmt.Printf("toserver groups:        src=%d dst=%d sp=%d dp=%d\n",
			cfg.Limits.ToServerSrc, cfg.Limits.ToServerDst, cfg.Limits.ToServerSP, cfg.Limits.ToServerDP)
		fmt.Printf("admin addr:             %s\n", tree.AdminAddr)
		return nil
	},
}

func init() {
	validateConfigCmd.Flags().StringVarP(&validateConfigFile, "config", "c", "", "Path to YAML config file to validate")
	validateConfigCmd.Flags().StringVar(&validateMatcher, "matcher", detect.MatcherDefault, "MPM matcher family to resolve against")
}
