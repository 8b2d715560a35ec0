package feedparser

// Decision は受理した記事をストアへどう反映するかの次の一手。
type Decision int

const (
	// DecideRefreshStale は保存済みの日付より新しい場合に限り上書きし、未読に戻すよう問い合わせる。
	DecideRefreshStale Decision = iota + 1
	// DecideUpdate は既読状態を保ったまま既存記事を上書きするよう問い合わせる。
	DecideUpdate
	// DecideInsert は新しい記事として追加する。
	DecideInsert
	// DecideCountRefreshed は古い既存記事を更新できたため、追加せずに新着として数える。
	DecideCountRefreshed
	// DecideKeepExisting は既存記事の上書きで完了する。新着には数えない。
	DecideKeepExisting
	// DecideCancel は既存記事を上書きしたうえで、以降の解析を打ち切る。
	DecideCancel
)

// String は判定結果の表示名を返す。
func (d Decision) String() string {
	switch d {
	case DecideRefreshStale:
		return "refresh_stale"
	case DecideUpdate:
		return "update"
	case DecideInsert:
		return "insert"
	case DecideCountRefreshed:
		return "count_refreshed"
	case DecideKeepExisting:
		return "keep_existing"
	case DecideCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// DecisionInput は重複判定の入力。ストアへの問い合わせ結果を順に埋めながら Decide を繰り返し呼ぶ。
type DecisionInput struct {
	// KeyEmpty はリンクとGUIDがともに空で、既存記事を特定できないことを表す。
	KeyEmpty bool
	// Dated は記事の日付を解析できたかどうか。
	Dated bool
	// Efficient は新しい順を前提とした打ち切りが有効かどうか。
	Efficient bool

	StaleTried  bool
	StaleRows   int64
	UpdateTried bool
	UpdatedRows int64
}

// Decide は重複判定表に従って次の一手を返す。
//
//	キーなし                                   -> 追加
//	日付あり・効率モード・未問合せ               -> 古い記事の更新を問い合わせ
//	古い記事の更新が1件                          -> 新着として数える
//	上書き未問合せ                              -> 上書きを問い合わせ
//	上書き0件                                   -> 追加
//	上書き済み・日付なし・効率モード              -> 打ち切り
//	それ以外                                    -> 既存記事のまま
func Decide(in DecisionInput) Decision {
	switch {
	case in.KeyEmpty:
		return DecideInsert
	case in.Dated && in.Efficient && !in.StaleTried:
		return DecideRefreshStale
	case in.StaleTried && in.StaleRows == 1:
		return DecideCountRefreshed
	case !in.UpdateTried:
		return DecideUpdate
	case in.UpdatedRows == 0:
		return DecideInsert
	case !in.Dated && in.Efficient:
		return DecideCancel
	default:
		return DecideKeepExisting
	}
}
