package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/edx-tools/edx-crawler/internal/edx"
	"github.com/edx-tools/edx-crawler/internal/fetch"
)

func newCoursesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "courses",
		Short: "Lists the enrolled courses",
		Long: `Logs into the configured Open edX platform and prints the courses
found on the learner dashboard, including whether each one has started.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCourses(cmd.Context())
		},
	}
}

func runCourses(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	username, password, err := credentials(cfg)
	if err != nil {
		return err
	}

	fetcher, err := fetch.New(fetch.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	}, logger)
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}
	client := edx.NewClient(fetcher, cfg.Platform.BaseURL, logger)

	if err := client.BuildHeaders(ctx); err != nil {
		return err
	}
	if err := client.Login(ctx, username, password); err != nil {
		return err
	}
	courses, err := client.Courses(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE")
	for _, course := range courses {
		fmt.Fprintf(w, "%s\t%s\t%s\n", course.ID, course.Name, course.State)
	}
	return w.Flush()
}
