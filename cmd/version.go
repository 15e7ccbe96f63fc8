package cmd

import (
	"fmt"

	"github.com/haierkeys/vault-device-sync/internal/app"
	"github.com/haierkeys/vault-device-sync/internal/dto"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print out version info and exit. // 打印版本信息并退出。",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("v%s ( Git:%s ) BuidTime:%s Protocol:%s\n", app.Version, app.GitTag, app.BuildTime, dto.ProtocolVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
