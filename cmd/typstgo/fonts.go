package main

import (
	"fmt"

	"github.com/goodguyjay/typstgo/world"
	"github.com/spf13/cobra"
)

var fontsCmd = &cobra.Command{
	Use:   "fonts",
	Short: "List the discovered font inventory",
	Long: `List every font file a session would discover, in index order.

The inventory covers the system font directories plus any --font-path,
the same search a compile performs.`,
	Run: runFonts,
}

func init() {
	fontsCmd.Flags().StringSlice("font-path", nil, "Extra font directory (repeatable)")
	fontsCmd.Flags().Bool("system-fonts", true, "Include system font directories")
	rootCmd.AddCommand(fontsCmd)
}

func runFonts(cmd *cobra.Command, args []string) {
	fontPaths, _ := cmd.Flags().GetStringSlice("font-path")
	systemFonts, _ := cmd.Flags().GetBool("system-fonts")

	inv := world.DiscoverFonts(fontPaths, systemFonts)
	if inv.Count() == 0 {
		fmt.Println("No fonts found.")
		return
	}
	fmt.Printf("%d font(s):\n", inv.Count())
	for i := 0; i < inv.Count(); i++ {
		if p, ok := inv.Path(i); ok {
			fmt.Printf("  [%d] %s\n", i, p)
		}
	}
}
