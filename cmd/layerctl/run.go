package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"
	"github.com/layerctl/layerctl/pkg/runtime"
	"github.com/spf13/cobra"
)

var (
	runEnvFile string
	runPublish []string
	runKeep    bool
	runImage   string
)

var runCmd = &cobra.Command{
	Use:   "run [recipe]",
	Short: "Run the built image's default command",
	Long: `Starts a container from the recipe's image with the image's own default
command and no extra arguments, streams its output and exits with an error
if the module exits non-zero.

Credentials belong in an env file passed with --env-file. They are never
part of the build context.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := loadRecipe(args)
		if err != nil {
			return err
		}

		env, err := runtime.LoadEnvFile(runEnvFile)
		if err != nil {
			return err
		}
		logger := newLogger("runtime", slices.Collect(maps.Values(env))...)

		image := runImage
		if image == "" {
			image = r.ImageTag()
		}

		ctx := cmd.Context()
		cli, err := connectDocker(ctx)
		if err != nil {
			return err
		}
		defer cli.Close()

		exists, err := runtime.ImageExists(ctx, cli, image)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("image %s not found; run 'layerctl build' first", image)
		}

		runID := uuid.NewString()
		_, err = runtime.Run(ctx, cli, runtime.RunOptions{
			Image:    image,
			Name:     fmt.Sprintf("layerctl-%s-%s", r.Name, runID[:8]),
			RunID:    runID,
			Env:      env,
			Publish:  runPublish,
			Platform: r.Platform,
			Keep:     runKeep,
			Stdout:   cmd.OutOrStdout(),
			Stderr:   cmd.ErrOrStderr(),
			Logger:   logger,
		})
		return err
	},
}

func init() {
	runCmd.Flags().StringVar(&runEnvFile, "env-file", "", "Read environment variables from a dotenv file")
	runCmd.Flags().StringSliceVarP(&runPublish, "publish", "p", nil, "Publish a container port (e.g. 8080:80)")
	runCmd.Flags().BoolVar(&runKeep, "keep", false, "Keep the container after it exits")
	runCmd.Flags().StringVar(&runImage, "image", "", "Image to run (default: the recipe's tag)")
}
