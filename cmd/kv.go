package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

var ttlSeconds int

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the string value at key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		val, err := s.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), val)
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a string value, optionally expiring after --ttl seconds",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		if cmd.Flags().Changed("ttl") {
			return s.SetWithTTL(cmd.Context(), args[0], args[1], ttlSeconds)
		}
		return s.Set(cmd.Context(), args[0], args[1])
	},
}

var incrCmd = &cobra.Command{
	Use:   "incr <key> [delta]",
	Short: "Add delta (default 1) to the integer at key and print the result",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		delta := int64(1)
		if len(args) == 2 {
			d, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("delta must be an integer: %w", err)
			}
			delta = d
		}

		s, _, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.Increment(cmd.Context(), args[0], delta)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

var delCmd = &cobra.Command{
	Use:   "del <key>...",
	Short: "Delete keys; absent keys are ignored",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		for _, key := range args {
			if err := s.Delete(cmd.Context(), key); err != nil {
				return err
			}
		}
		return nil
	},
}

var prefixCmd = &cobra.Command{
	Use:   "prefix",
	Short: "Operate on every key matching <prefix>*",
}

var prefixGetCmd = &cobra.Command{
	Use:   "get <prefix>",
	Short: "Print the values of every key matching prefix*",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		values, err := s.GetByPrefix(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		sort.Strings(values)
		return writeLines(cmd.OutOrStdout(), values)
	},
}

var prefixDelCmd = &cobra.Command{
	Use:   "del <prefix>",
	Short: "Delete every key matching prefix*",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		return s.DelByPrefix(cmd.Context(), args[0])
	},
}

var hashCmd = &cobra.Command{
	Use:   "hash <key>",
	Short: "Print every field of the hash at key as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		fields, err := s.GetHashMaps(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(fields)
	},
}

func writeLines(w io.Writer, lines []string) error {
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	setCmd.Flags().IntVar(&ttlSeconds, "ttl", 0, "expire the value after this many seconds")

	prefixCmd.AddCommand(prefixGetCmd, prefixDelCmd)
	rootCmd.AddCommand(getCmd, setCmd, incrCmd, delCmd, prefixCmd, hashCmd)
}
