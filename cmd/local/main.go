package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/cerdanyolabus/busmap/internal/config"
	"github.com/cerdanyolabus/busmap/internal/models"
	"github.com/cerdanyolabus/busmap/pkg/busmap"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
	stopsArg   string
	debugFlag  bool

	latArg    float64
	lonArg    float64
	limitArg  int
	timesFlag bool
)

var rootCmd = &cobra.Command{
	Use:           "busmap",
	Short:         "Bus arrival times for Cerdanyola del Vallès",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debugFlag {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	},
}

var nearbyCmd = &cobra.Command{
	Use:   "nearby",
	Short: "List the stops closest to a coordinate (defaults to the last known location)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(client *busmap.LocalClient) error {
			lat, lon := latArg, lonArg
			if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lon") {
				loc := client.GetLocation().Location
				lat, lon = loc.Lat, loc.Lng
			}

			fmt.Printf("Nearest stops to (%.4f, %.4f):\n", lat, lon)
			printStops(os.Stdout, client.GetStopsByLocation(lat, lon, limitArg))
			return nil
		})
	},
}

var timesCmd = &cobra.Command{
	Use:   "times <stopId>",
	Short: "Show the upcoming buses at a stop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseStopID(args[0])
		if err != nil {
			return err
		}
		return withClient(cmd.Context(), func(client *busmap.LocalClient) error {
			state, err := client.SelectStop(cmd.Context(), id)
			if err != nil {
				return err
			}
			stop, _ := client.GetStop(id)
			fmt.Printf("%s (%d)\n", stop.Name, stop.ID)
			printTimetable(os.Stdout, state.Timetable)
			return nil
		})
	},
}

var starCmd = &cobra.Command{
	Use:   "star <stopId>",
	Short: "Star or unstar a stop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseStopID(args[0])
		if err != nil {
			return err
		}
		return withClient(cmd.Context(), func(client *busmap.LocalClient) error {
			state, err := client.ToggleStar(id)
			if err != nil {
				return err
			}
			if slices.Contains(state.StarredStopIDs, id) {
				fmt.Printf("Starred stop %d\n", id)
			} else {
				fmt.Printf("Unstarred stop %d\n", id)
			}
			return nil
		})
	},
}

var starredCmd = &cobra.Command{
	Use:   "starred",
	Short: "List starred stops",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(client *busmap.LocalClient) error {
			if !timesFlag {
				for _, id := range client.GetStarred().StarredStopIDs {
					stop, err := client.GetStop(id)
					if err != nil {
						fmt.Printf("- %d (not in catalog)\n", id)
						continue
					}
					fmt.Printf("- %s (%d)\n", stop.Name, stop.ID)
				}
				return nil
			}

			for _, entry := range client.GetStarredTimetables(cmd.Context()) {
				fmt.Printf("\n%s (%d)\n", entry.Stop.Name, entry.Stop.ID)
				printTimetable(os.Stdout, entry.Timetable)
			}
			return nil
		})
	},
}

var linesCmd = &cobra.Command{
	Use:   "lines",
	Short: "List bus lines in the stop catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(client *busmap.LocalClient) error {
			for _, line := range client.GetLines() {
				fmt.Println(line)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite file for starred stops and the cached location")
	rootCmd.PersistentFlags().StringVarP(&stopsArg, "stops", "s", "", "Stop catalog file or URL")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "v", false, "Enable debug logs")

	nearbyCmd.Flags().Float64Var(&latArg, "lat", 0, "Latitude")
	nearbyCmd.Flags().Float64Var(&lonArg, "lon", 0, "Longitude")
	nearbyCmd.Flags().IntVarP(&limitArg, "limit", "n", 5, "Number of stops")

	starredCmd.Flags().BoolVarP(&timesFlag, "times", "t", false, "Include upcoming buses")

	rootCmd.AddCommand(nearbyCmd, timesCmd, starCmd, starredCmd, linesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func withClient(ctx context.Context, fn func(*busmap.LocalClient) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.Storage.Driver = "sqlite"
		cfg.Storage.Path = dbPath
	}
	if stopsArg != "" {
		cfg.Catalog.Source = stopsArg
	}

	clientConfig := busmap.ConfigFrom(*cfg)
	// One-shot commands never receive pushed positions
	if clientConfig.NATSURL == "" {
		clientConfig.GeolocationDisabled = true
	}

	if ctx == nil {
		ctx = context.Background()
	}
	client, err := busmap.NewLocal(ctx, clientConfig)
	if err != nil {
		return err
	}
	defer client.Close()

	return fn(client)
}

func parseStopID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid stop id %q", s)
	}
	return id, nil
}

func printStops(w io.Writer, stops []models.BusStop) {
	for _, stop := range stops {
		fmt.Fprintf(w, "- %s (%d) %v\n", stop.Name, stop.ID, stop.Buses)
	}
}

func printTimetable(w io.Writer, lines []models.NormalizedLineTimetable) {
	if len(lines) == 0 {
		fmt.Fprintln(w, "  No upcoming buses")
		return
	}
	for _, line := range lines {
		fmt.Fprintf(w, "  %s\n", line.LineName)
		for _, bus := range line.NextBuses {
			marker := ""
			if bus.Real {
				marker = " *"
			}
			fmt.Fprintf(w, "    %-24s %s%s\n", bus.Name, bus.MinutesLeft, marker)
		}
	}
	fmt.Fprintf(w, "  (* real-time, as of %s)\n", time.Now().Format("15:04"))
}
