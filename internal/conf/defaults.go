// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "CORA-Server")

	viper.SetDefault("webserver.debug", false)
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.logpath", "logs/web.log")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "cora.db")

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "cora")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.database", "cora")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.secret", "")
	viper.SetDefault("auth.tokenttl", 60)

	viper.SetDefault("ingest.maxbatchsize", 1000)
	viper.SetDefault("ingest.activeminutes", 1440)
}
