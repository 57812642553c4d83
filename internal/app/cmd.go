package app

import "fmt"

// Command はfeedcasterの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。手動トリガーとスケジューラの単発実行を受け付ける。
	CommandServe Command = "serve"
	// CommandWorker はスケジューラのループとログ保持ジョブを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空の場合はCommandServe、未知のサブコマンドはエラーを返す。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	switch cmd := Command(args[0]); cmd {
	case CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck:
		return cmd, nil
	default:
		return "", fmt.Errorf("unknown command %q (serve | worker | migrate | healthcheck)", args[0])
	}
}
