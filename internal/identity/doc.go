// Package identity はBearerトークンの検証と、検証済みの呼び出し元情報を提供する。
//
// トークンはHS256で署名されたJWTで、有効期限（exp）と主体ID（user_id または sub）を必須とする。
// 検証結果はリクエストのcontext.Contextにのみ保持し、キャッシュしない。
package identity
