package app

// Command は newsvoice のサブコマンド。
type Command string

const (
	// CommandServe は記事APIと音声URL発行を提供するHTTPサーバー。
	CommandServe Command = "serve"
	// CommandWorker は音声未生成の記事を定期的に事前合成する。
	CommandWorker Command = "worker"
	// CommandMigrate はarticlesテーブルのマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はローカルの /health を叩いて終了コードで結果を返す。
	// シェルを持たないdistrolessイメージのHEALTHCHECKから呼ばれる。
	CommandHealthcheck Command = "healthcheck"
)

// commandRoles はログ出力用のサブコマンドの役割。
var commandRoles = map[Command]string{
	CommandServe:       "api",
	CommandWorker:      "prewarm-worker",
	CommandMigrate:     "migration",
	CommandHealthcheck: "healthcheck",
}

// Role はログに出す役割名を返す。
func (c Command) Role() string {
	if role, ok := commandRoles[c]; ok {
		return role
	}
	return commandRoles[CommandServe]
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 残りの引数は無視する。不明なコマンドや引数なしはserve扱い。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	cmd := Command(args[0])
	if _, ok := commandRoles[cmd]; !ok {
		return CommandServe
	}
	return cmd
}
