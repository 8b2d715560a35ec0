// Package feedparser はRSS/RDF/AtomのXMLイベントを受け取り、記事を組み立ててストアに反映する。
// XMLの字句解析は呼び出し側（Drive）が担い、Handlerは開始タグ・文字列・終了タグのイベントだけを処理する。
package feedparser

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/groboclown/GroboRSS/internal/model"
	"github.com/groboclown/GroboRSS/internal/rewrite"
)

// Store はパーサーが使う永続化の操作。repository.EntryStoreが実装する。
type Store interface {
	// UpdateFeedMetadata はフィードのメタデータを部分更新する。
	UpdateFeedMetadata(ctx context.Context, feedID string, update model.FeedUpdate) error
	// DeleteEntriesOlderThan はcutoffより古い記事を削除し、削除した記事IDを返す。
	DeleteEntriesOlderThan(ctx context.Context, feedID string, cutoff time.Time, excludeFavorites bool) ([]string, error)
	// RefreshStaleEntry はキーが一致し日付が候補より古い記事を上書きして未読に戻す。更新件数を返す。
	RefreshStaleEntry(ctx context.Context, feedID string, key model.DedupKey, entry *model.EntryCandidate) (int64, error)
	// UpdateEntry はキーが一致する記事を既読状態を保ったまま上書きする。更新件数を返す。
	UpdateEntry(ctx context.Context, feedID string, key model.DedupKey, entry *model.EntryCandidate) (int64, error)
	// InsertEntry は記事を追加し、採番した記事IDを返す。
	InsertEntry(ctx context.Context, feedID string, entry *model.EntryCandidate, date time.Time) (string, error)
}

// Cleaner は記事本文を保存用に整形する。rewrite.Cleanerが実装する。
type Cleaner interface {
	Clean(ctx context.Context, description, link string, patterns []rewrite.ImagePattern) rewrite.Cleaned
}

// ImageSink は記事が参照する画像をキャッシュする。imagecache.Cacheが実装する。
type ImageSink interface {
	Store(ctx context.Context, entryID, imageURL string) error
	RemoveEntries(entryIDs []string) error
}

// Options はパーサーの設定。
type Options struct {
	// KeepDays は記事の保持日数。0以下なら期限切れの削除を行わない。
	KeepDays int
	// EfficientParsing がtrueの場合、記事が新しい順に並んでいる前提で既知の記事に達した時点で解析を打ち切る。
	EfficientParsing bool
	// Now は現在時刻を返す。nilなら time.Now。
	Now func() time.Time
}

// FeedState は解析対象フィードの保存済みの状態。
type FeedState struct {
	ID   string
	URL  string
	Name string
	// Watermark は前回までに見た記事日付の最大値。
	Watermark time.Time
	// ImagePatterns は記事リンク先から画像を探す正規表現。
	ImagePatterns []rewrite.ImagePattern
}

// Name はXML要素の名前。Prefixは名前空間宣言の接頭辞。
type Name struct {
	Space  string
	Prefix string
	Local  string
}

// Qualified は "prefix:local" 形式の名前を返す。
func (n Name) Qualified() string {
	if n.Prefix == "" {
		return n.Local
	}
	return n.Prefix + ":" + n.Local
}

// Handler はXMLイベントを受けて記事を組み立てる状態機械。
// 1つのフィードの解析ごとにInitで初期化して使い回す。並行して使用してはならない。
type Handler struct {
	store   Store
	cleaner Cleaner
	images  ImageSink
	opts    Options
	logger  *slog.Logger

	feed       FeedState
	baseURL    string
	keepBorder time.Time
	lastUpdate time.Time
	realLast   time.Time
	now        time.Time
	stream     io.Closer

	newCount      int
	feedRefreshed bool
	done          bool
	cancelled     bool

	title         *strings.Builder
	dateText      *strings.Builder
	link          *strings.Builder
	linkWeak      bool
	description   *strings.Builder
	guid          *strings.Builder
	entryDate     *time.Time
	lastBuildDate *time.Time
	enclosure     *model.Enclosure
	authors       []string
	authorEntered bool
	nameEntered   bool
	authorName    strings.Builder
	authorText    strings.Builder
	authorHasName bool
	dateKind      dateKind
	inDescription bool
	inTitle       bool
	inLink        bool
	inGUID        bool
	inDate        bool
}

type dateKind int

const (
	dateUpdated dateKind = iota
	datePub
	dateLastBuild
)

// NewHandler はHandlerの新しいインスタンスを生成する。cleanerとimagesはnilでもよい。
func NewHandler(store Store, cleaner Cleaner, images ImageSink, opts Options, logger *slog.Logger) *Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:   store,
		cleaner: cleaner,
		images:  images,
		opts:    opts,
		logger:  logger,
	}
}

// Init はフィード1件分の解析状態を初期化し、保持期間を過ぎた記事を削除する。
func (h *Handler) Init(ctx context.Context, feed FeedState) error {
	*h = Handler{
		store:   h.store,
		cleaner: h.cleaner,
		images:  h.images,
		opts:    h.opts,
		logger:  h.logger,
	}
	h.feed = feed
	h.baseURL = model.BaseURLOf(feed.URL)
	h.now = h.opts.Now()
	h.lastUpdate = feed.Watermark
	h.realLast = feed.Watermark

	if h.opts.KeepDays <= 0 {
		return nil
	}
	h.keepBorder = h.now.Add(-time.Duration(h.opts.KeepDays) * 24 * time.Hour)
	ids, err := h.store.DeleteEntriesOlderThan(ctx, feed.ID, h.keepBorder, true)
	if err != nil {
		return fmt.Errorf("期限切れ記事の削除に失敗: %w", err)
	}
	if len(ids) > 0 && h.images != nil {
		if err := h.images.RemoveEntries(ids); err != nil {
			h.logger.Warn("期限切れ記事の画像削除に失敗しました",
				slog.String("feed_id", feed.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// SetStream は打ち切り時に閉じる入力ストリームを設定する。
func (h *Handler) SetStream(stream io.Closer) {
	h.stream = stream
}

// Done はルート要素の終了に達したか、解析を打ち切った場合にtrueを返す。
func (h *Handler) Done() bool {
	return h.done
}

// Cancelled は解析を打ち切った場合にtrueを返す。
func (h *Handler) Cancelled() bool {
	return h.cancelled
}

// NewCount は追加または更新により新着となった記事数を返す。
func (h *Handler) NewCount() int {
	return h.newCount
}

// FeedID は解析中のフィードIDを返す。
func (h *Handler) FeedID() string {
	return h.feed.ID
}

// StartElement は開始タグを処理する。
func (h *Handler) StartElement(ctx context.Context, name Name, attrs []xml.Attr) error {
	switch name.Local {
	case "updated", "date":
		h.startDate(dateUpdated)
	case "pubDate":
		h.startDate(datePub)
	case "lastBuildDate":
		h.startDate(dateLastBuild)
	case "entry", "item":
		return h.startEntry(ctx)
	case "title":
		if h.title == nil {
			h.title = &strings.Builder{}
			h.inTitle = true
		}
	case "link":
		h.startLink(attrs)
	case "description", "content":
		if name.Qualified() == "media:description" || name.Qualified() == "media:content" {
			return nil
		}
		h.description = &strings.Builder{}
		h.inDescription = true
	case "encoded":
		h.description = &strings.Builder{}
		h.inDescription = true
	case "summary":
		if h.description == nil {
			h.description = &strings.Builder{}
			h.inDescription = true
		}
	case "enclosure":
		h.startEnclosure(attrs, attrValue(attrs, "url"))
	case "guid":
		h.guid = &strings.Builder{}
		h.inGUID = true
	case "author", "creator":
		h.authorEntered = true
		h.authorHasName = false
		h.authorName.Reset()
		h.authorText.Reset()
	case "name":
		if h.authorEntered {
			h.nameEntered = true
			h.authorHasName = true
		}
	}
	return nil
}

func (h *Handler) startDate(kind dateKind) {
	h.dateText = &strings.Builder{}
	h.dateKind = kind
	h.inDate = true
}

// startEntry は記事要素の開始を処理する。文書内の最初の記事ではフィードのメタデータを更新する。
func (h *Handler) startEntry(ctx context.Context) error {
	if !h.feedRefreshed {
		if err := h.refreshFeed(ctx); err != nil {
			return err
		}
		h.feedRefreshed = true
	}
	h.title = nil
	h.link = nil
	h.linkWeak = false
	h.description = nil
	h.guid = nil
	h.enclosure = nil
	h.authors = nil
	h.entryDate = nil
	return nil
}

func (h *Handler) refreshFeed(ctx context.Context) error {
	lastUpdate := h.now.Add(-time.Second)
	var observed time.Time
	switch {
	case h.lastBuildDate != nil && h.entryDate != nil && h.entryDate.After(*h.lastBuildDate):
		observed = *h.entryDate
	case h.lastBuildDate != nil:
		observed = *h.lastBuildDate
	case h.entryDate != nil:
		observed = *h.entryDate
	default:
		observed = lastUpdate
	}
	if observed.After(h.realLast) {
		h.realLast = observed
	}

	noError := ""
	realLast := h.realLast
	update := model.FeedUpdate{
		Error:          &noError,
		LastUpdate:     &lastUpdate,
		RealLastUpdate: &realLast,
	}
	if h.feed.Name == "" && h.title != nil {
		if name := strings.TrimSpace(h.title.String()); name != "" {
			update.Name = &name
		}
	}
	if h.link != nil {
		if homepage := strings.TrimSpace(h.link.String()); homepage != "" {
			update.Homepage = &homepage
		}
	}
	if err := h.store.UpdateFeedMetadata(ctx, h.feed.ID, update); err != nil {
		return fmt.Errorf("フィード情報の更新に失敗: %w", err)
	}
	return nil
}

// startLink は<link>を処理する。rel="enclosure"は添付ファイルとして扱い、
// それ以外のrelはalternateのリンクを上書きしない。
func (h *Handler) startLink(attrs []xml.Attr) {
	if h.authorEntered {
		return
	}
	rel := attrValue(attrs, "rel")
	if rel == "enclosure" {
		h.startEnclosure(attrs, attrValue(attrs, "href"))
		return
	}
	weak := rel != "" && rel != "alternate"
	if weak && h.link != nil && h.link.Len() > 0 && !h.linkWeak {
		return
	}
	h.link = &strings.Builder{}
	h.linkWeak = weak
	for _, a := range attrs {
		if a.Name.Local == "href" {
			h.link.WriteString(a.Value)
			h.inLink = false
			return
		}
	}
	h.inLink = true
}

// startEnclosure は最初の添付ファイルだけを記録する。
func (h *Handler) startEnclosure(attrs []xml.Attr, url string) {
	if h.enclosure != nil {
		return
	}
	h.enclosure = &model.Enclosure{
		URL:    url,
		Type:   attrValue(attrs, "type"),
		Length: attrValue(attrs, "length"),
	}
}

// Characters は要素内の文字列を処理する。
func (h *Handler) Characters(text string) {
	switch {
	case h.inTitle:
		h.title.WriteString(text)
	case h.inDate:
		h.dateText.WriteString(text)
	case h.inLink:
		h.link.WriteString(text)
	case h.inDescription:
		h.description.WriteString(text)
	case h.inGUID:
		h.guid.WriteString(text)
	case h.authorEntered && h.nameEntered:
		h.authorName.WriteString(text)
	case h.authorEntered:
		h.authorText.WriteString(text)
	}
}

// EndElement は終了タグを処理する。
func (h *Handler) EndElement(ctx context.Context, name Name) error {
	switch name.Local {
	case "title":
		h.inTitle = false
	case "description", "content":
		if name.Qualified() != "media:description" && name.Qualified() != "media:content" {
			h.inDescription = false
		}
	case "summary", "encoded":
		h.inDescription = false
	case "link":
		h.inLink = false
	case "updated", "date", "pubDate", "lastBuildDate":
		h.endDate()
	case "entry", "item":
		err := h.endEntry(ctx)
		h.title = nil
		h.description = nil
		h.enclosure = nil
		h.guid = nil
		h.authors = nil
		h.entryDate = nil
		return err
	case "rss", "feed":
		h.done = true
	case "guid":
		h.inGUID = false
	case "name":
		h.nameEntered = false
	case "author", "creator":
		h.endAuthor()
	default:
		if strings.EqualFold(name.Local, "rdf") {
			h.done = true
		}
	}
	return nil
}

func (h *Handler) endDate() {
	if h.dateText == nil {
		return
	}
	text := h.dateText.String()
	var (
		t  time.Time
		ok bool
	)
	if h.dateKind == dateUpdated {
		t, ok = ParseUpdatedDate(text)
	} else {
		t, ok = ParsePubDate(text)
	}
	if !ok {
		h.logger.Debug("日付を解析できませんでした",
			slog.String("feed_id", h.feed.ID),
			slog.String("date", text),
		)
	}
	var parsed *time.Time
	if ok {
		parsed = &t
	}
	if h.dateKind == dateLastBuild {
		h.lastBuildDate = parsed
	} else {
		h.entryDate = parsed
	}
	h.dateText = nil
	h.inDate = false
}

func (h *Handler) endAuthor() {
	value := h.authorText.String()
	if h.authorHasName {
		value = h.authorName.String()
	}
	if value = strings.TrimSpace(value); value != "" {
		h.authors = append(h.authors, value)
	}
	h.authorEntered = false
	h.nameEntered = false
}

// accepts は記事を取り込むかどうかを判定する。
// 日付のない記事は常に受け入れ、日付のある記事は保持期間内で、効率モードでは前回の最新日付より新しいものに限る。
func (h *Handler) accepts() bool {
	if h.title == nil {
		return false
	}
	if h.entryDate == nil {
		return true
	}
	newer := h.entryDate.After(h.lastUpdate) || !h.opts.EfficientParsing
	return newer && h.entryDate.After(h.keepBorder)
}

// endEntry は組み立てた記事をストアに反映する。
func (h *Handler) endEntry(ctx context.Context) error {
	if !h.accepts() {
		if h.opts.EfficientParsing {
			h.cancel()
		}
		return nil
	}

	if h.entryDate != nil && h.entryDate.After(h.realLast) {
		h.realLast = *h.entryDate
		realLast := h.realLast
		if err := h.store.UpdateFeedMetadata(ctx, h.feed.ID, model.FeedUpdate{RealLastUpdate: &realLast}); err != nil {
			return fmt.Errorf("フィードの最新記事日時の更新に失敗: %w", err)
		}
	}

	entry := h.buildCandidate(ctx)
	in := DecisionInput{
		KeyEmpty:  entry.Key().IsEmpty(),
		Dated:     entry.Date != nil,
		Efficient: h.opts.EfficientParsing,
	}
	for {
		decision := Decide(in)
		switch decision {
		case DecideRefreshStale:
			n, err := h.store.RefreshStaleEntry(ctx, h.feed.ID, entry.Key(), entry)
			if err != nil {
				return fmt.Errorf("記事の更新に失敗: %w", err)
			}
			in.StaleTried, in.StaleRows = true, n
		case DecideUpdate:
			n, err := h.store.UpdateEntry(ctx, h.feed.ID, entry.Key(), entry)
			if err != nil {
				return fmt.Errorf("記事の更新に失敗: %w", err)
			}
			in.UpdateTried, in.UpdatedRows = true, n
		case DecideInsert:
			return h.insert(ctx, entry)
		case DecideCountRefreshed:
			h.newCount++
			return nil
		case DecideCancel:
			h.cancel()
			return nil
		default:
			return nil
		}
	}
}

// buildCandidate は蓄積した要素から記事候補を組み立てる。
func (h *Handler) buildCandidate(ctx context.Context) *model.EntryCandidate {
	entry := &model.EntryCandidate{
		Title:  UnescapeTitle(strings.TrimSpace(h.title.String())),
		Date:   h.entryDate,
		Author: strings.Join(h.authors, ", "),
	}
	if h.enclosure != nil {
		entry.Enclosure = *h.enclosure
	}
	if h.guid != nil {
		entry.GUID = h.guid.String()
	}
	if h.link != nil {
		entry.Link = h.resolveLink(strings.TrimSpace(h.link.String()))
	}
	if h.description != nil {
		if h.cleaner != nil {
			cleaned := h.cleaner.Clean(ctx, h.description.String(), entry.Link, h.feed.ImagePatterns)
			entry.Description = cleaned.Description
			entry.Images = cleaned.Images
		} else {
			entry.Description = strings.TrimSpace(h.description.String())
		}
	}
	return entry
}

// resolveLink はスキームのないリンクをフィードのベースURLで補完する。
func (h *Handler) resolveLink(link string) string {
	if link == "" || h.baseURL == "" || strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	if strings.HasPrefix(link, "/") {
		return h.baseURL + link
	}
	return h.baseURL + "/" + link
}

// insert は記事を追加し、参照する画像をキャッシュに取り込む。
// 日付のない記事には挿入順を保つため、単調に減少する日時を割り当てる。
func (h *Handler) insert(ctx context.Context, entry *model.EntryCandidate) error {
	date := h.now
	if entry.Date != nil {
		date = *entry.Date
	} else {
		h.now = h.now.Add(-time.Millisecond)
	}
	entryID, err := h.store.InsertEntry(ctx, h.feed.ID, entry, date)
	if err != nil {
		return fmt.Errorf("記事の追加に失敗: %w", err)
	}
	h.newCount++

	if h.images == nil {
		return nil
	}
	for _, imageURL := range entry.Images {
		if err := h.images.Store(ctx, entryID, imageURL); err != nil {
			h.logger.Warn("画像の保存に失敗しました",
				slog.String("feed_id", h.feed.ID),
				slog.String("entry_id", entryID),
				slog.String("image_url", imageURL),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// cancel は解析を打ち切り、入力ストリームを閉じる。
func (h *Handler) cancel() {
	if h.cancelled {
		return
	}
	h.cancelled = true
	h.done = true
	if h.stream != nil {
		if err := h.stream.Close(); err != nil {
			h.logger.Debug("打ち切り時のストリームのクローズに失敗しました",
				slog.String("feed_id", h.feed.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// attrValue は名前空間のない属性の値を返す。存在しない場合は空文字列。
func attrValue(attrs []xml.Attr, local string) string {
	for _, a := range attrs {
		if a.Name.Space == "" && a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
