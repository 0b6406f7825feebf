package main

import (
	"flag"
	"fmt"

	"github.com/agora/internal/config"
	"github.com/agora/internal/db"
	log "github.com/sirupsen/logrus"
)

func main() {
	username := flag.String("username", "admin", "管理员用户名")
	password := flag.String("password", "", "管理员密码（必填）")
	flag.Parse()

	if *password == "" {
		log.Fatal("请通过 -password 指定管理员密码")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("配置加载失败:", err)
	}

	// 初始化数据库
	gdb, err := db.Init(db.Options{Driver: cfg.DBDriver, Path: cfg.DatabasePath, URL: cfg.DatabaseURL})
	if err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	if err := db.EnsureAdmin(gdb, *username, *password); err != nil {
		log.Fatal("创建管理员失败:", err)
	}

	fmt.Println("管理员账号已就绪")
	fmt.Println("用户名:", *username)
}
