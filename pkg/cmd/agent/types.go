package agent

import (
	"github.com/jeremyhahn/go-puppet-ssl/pkg/app"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/cmd/common"
)

var (
	App        *app.App
	InitParams *app.InitParams
	err        error
)

func init() {
	InitParams = &app.InitParams{}
}

func initApp() error {
	App, err = common.InitApp(App, InitParams)
	return err
}
