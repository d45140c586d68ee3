package main

import (
	"fmt"

	_ "github.com/oremus/go-common/cache"
	_ "github.com/oremus/go-common/classify"
	_ "github.com/oremus/go-common/config"
	_ "github.com/oremus/go-common/env"
	_ "github.com/oremus/go-common/gateway"
	_ "github.com/oremus/go-common/logger"
	_ "github.com/oremus/go-common/prayer"
	_ "github.com/oremus/go-common/resilience"
	_ "github.com/oremus/go-common/supabase"
	_ "github.com/oremus/go-common/tui"
)

func main() {
	fmt.Println("Hi")
}
