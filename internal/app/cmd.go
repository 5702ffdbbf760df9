package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandRun は全ソースを1回巡回して通知するモード。
	CommandRun Command = "run"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandRunを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandRun
	}

	switch args[0] {
	case "migrate":
		return CommandMigrate
	default:
		return CommandRun
	}
}
