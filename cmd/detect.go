package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sergev/fluxarc/fluxstat"
	"github.com/sergev/fluxarc/preset"
)

var detectCmd = &cobra.Command{
	Use:   "detect [FILE]",
	Short: "Analyze raw flux intervals and suggest a decoder preset",
	Long: "Read whitespace-separated flux intervals in nanoseconds from FILE (or stdin), " +
		"print interval statistics, classify the encoding and suggest a preset.",
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		input := os.Stdin
		if len(args) > 0 {
			file, err := os.Open(args[0])
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to open flux file: %w", err))
			}
			defer file.Close()
			input = file
		}

		var intervals []float64
		scanner := bufio.NewScanner(input)
		scanner.Split(bufio.ScanWords)
		for scanner.Scan() {
			v, err := strconv.ParseFloat(scanner.Text(), 64)
			if err != nil {
				cobra.CheckErr(fmt.Errorf("bad flux interval %q: %w", scanner.Text(), err))
			}
			intervals = append(intervals, v)
		}
		if err := scanner.Err(); err != nil {
			cobra.CheckErr(fmt.Errorf("failed to read flux intervals: %w", err))
		}

		summary, err := fluxstat.Summarize(intervals)
		if err != nil {
			cobra.CheckErr(err)
		}
		fmt.Printf("Samples:  %d\n", summary.Count)
		fmt.Printf("Mean:     %.0f ns (stddev %.0f ns)\n", summary.MeanNs, summary.StdNs)
		fmt.Printf("Range:    %.0f .. %.0f ns\n", summary.MinNs, summary.MaxNs)
		fmt.Printf("Encoding: %s\n", fluxstat.DetectEncoding(intervals))

		peaks := fluxstat.NewHistogram(intervals, 100, 16000).Peaks()
		for i, p := range peaks {
			fmt.Printf("Peak %d:   %.0f ns (%.1f%% of samples)\n", i+1, p.CenterNs, p.Percent)
		}

		name, err := preset.Detect(intervals)
		if err != nil {
			cobra.CheckErr(err)
		}
		fmt.Printf("Suggested preset: %s\n", name)
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}
