package profile

// Setting keys used in the key/value form of a profile.
const (
	KeyHandle                  = "handle"
	KeyName                    = "name"
	KeyStartURL                = "startURL"
	KeyURLMustMatch            = "urlMustMatch"
	KeyURLMustNotMatch         = "urlMustNotMatch"
	KeyIPMustMatch             = "ipMustMatch"
	KeyIPMustNotMatch          = "ipMustNotMatch"
	KeyCountryMustMatch        = "countryMustMatch"
	KeyNoDepthLimitMatch       = "noDepthLimitMatch"
	KeyIndexURLMustMatch       = "indexUrlMustMatch"
	KeyIndexURLMustNotMatch    = "indexUrlMustNotMatch"
	KeyDepth                   = "depth"
	KeyDomMaxPages             = "domMaxPages"
	KeyRecrawlIfOlder          = "recrawlIfOlder"
	KeyDirectDocByURL          = "directDocByURL"
	KeyCrawlingQ               = "crawlingQ"
	KeyIndexText               = "indexText"
	KeyIndexMedia              = "indexMedia"
	KeyStoreHTCache            = "storeHTCache"
	KeyRemoteIndexing          = "remoteIndexing"
	KeyExcludeStaticStopwords  = "excludeStaticStopwords"
	KeyExcludeDynamicStopwords = "excludeDynamicStopwords"
	KeyExcludeParentStopwords  = "excludeParentStopwords"
	KeyPushToSearchIndex       = "pushToSearchIndex"
	KeyCacheStrategy           = "cacheStrategy"
	KeyCollections             = "collections"
)

// FieldType describes how a setting value is edited.
type FieldType string

// Field types.
const (
	FieldBool   FieldType = "bool"
	FieldInt    FieldType = "int"
	FieldString FieldType = "string"
)

// Field describes one recognized setting.
type Field struct {
	Key      string    `json:"key"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	ReadOnly bool      `json:"read_only"`
}

// Fields lists every recognized setting in display order.
var Fields = []Field{
	{KeyHandle, "Handle", FieldString, true},
	{KeyName, "Name", FieldString, true},
	{KeyStartURL, "Start URL", FieldString, true},
	{KeyURLMustMatch, "URL Must Match", FieldString, false},
	{KeyURLMustNotMatch, "URL Must Not Match", FieldString, false},
	{KeyIPMustMatch, "IP Must Match", FieldString, false},
	{KeyIPMustNotMatch, "IP Must Not Match", FieldString, false},
	{KeyCountryMustMatch, "Country Must Match", FieldString, false},
	{KeyNoDepthLimitMatch, "No Depth Limit Match", FieldString, false},
	{KeyIndexURLMustMatch, "Index URL Must Match", FieldString, false},
	{KeyIndexURLMustNotMatch, "Index URL Must Not Match", FieldString, false},
	{KeyDepth, "Depth", FieldInt, false},
	{KeyDomMaxPages, "Domain Max. Pages", FieldInt, false},
	{KeyRecrawlIfOlder, "Recrawl If Older (ms)", FieldInt, false},
	{KeyDirectDocByURL, "Direct Doc By URL", FieldBool, false},
	{KeyCrawlingQ, "CrawlingQ / '?'-URLs", FieldBool, false},
	{KeyIndexText, "Index Text", FieldBool, false},
	{KeyIndexMedia, "Index Media", FieldBool, false},
	{KeyStoreHTCache, "Store in HTCache", FieldBool, false},
	{KeyRemoteIndexing, "Remote Indexing", FieldBool, false},
	{KeyExcludeStaticStopwords, "Static stop-words", FieldBool, false},
	{KeyExcludeDynamicStopwords, "Dynamic stop-words", FieldBool, false},
	{KeyExcludeParentStopwords, "Parent stop-words", FieldBool, false},
	{KeyPushToSearchIndex, "Push to Search Index", FieldBool, false},
	{KeyCacheStrategy, "Cache Strategy", FieldString, false},
	{KeyCollections, "Collections", FieldString, false},
}

var fieldsByKey = func() map[string]Field {
	m := make(map[string]Field, len(Fields))
	for _, f := range Fields {
		m[f.Key] = f
	}
	return m
}()

// LookupField returns the descriptor for a recognized key.
func LookupField(key string) (Field, bool) {
	f, ok := fieldsByKey[key]
	return f, ok
}

// IsReadOnly reports whether key may not change after creation.
func IsReadOnly(key string) bool {
	f, ok := fieldsByKey[key]
	return ok && f.ReadOnly
}
