package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は管理APIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は定期巡回と期限切れ記事の削除を行うワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandRefresh は全フィード（または指定フィード）を1回だけ巡回して終了することを示す。
	CommandRefresh Command = "refresh"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	// 引数に down を付けると1つ巻き戻す。
	CommandMigrate Command = "migrate"
	// CommandSeed はFEEDS_DIRのYAML定義から未登録のフィードを登録することを示す。
	CommandSeed Command = "seed"
	// CommandExport はバックアップを出力することを示す。
	CommandExport Command = "export"
	// CommandImport はバックアップを取り込むことを示す。
	CommandImport Command = "import"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch cmd := Command(args[0]); cmd {
	case CommandServe, CommandWorker, CommandRefresh, CommandMigrate,
		CommandSeed, CommandExport, CommandImport, CommandHealthcheck:
		return cmd
	default:
		return CommandServe
	}
}

// commandArg はサブコマンドに続くi番目の引数を返す。ない場合は空文字。
func commandArg(args []string, i int) string {
	if len(args) <= i+1 {
		return ""
	}
	return args[i+1]
}
