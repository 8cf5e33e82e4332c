package scene

const mb = 1 << 20

var imageMIME = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}
var imageExt = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

func imagePolicy(maxMB int64, maxCount int, compress bool) Policy {
	return Policy{
		AllowedMIME: imageMIME,
		AllowedExt:  imageExt,
		MaxSize:     maxMB * mb,
		MaxCount:    maxCount,
		Compress:    compress,
		Format:      "jpeg",
		Quality:     82,
	}
}

// Defaults returns the built-in scene table.
func Defaults() map[Scene]Template {
	return map[Scene]Template{
		ArticleImage: {
			BaseDir:         "articles/images",
			DatePartitioned: true,
			Policy:          imagePolicy(10, 50, true),
		},
		ArticleCover: {
			BaseDir:         "articles/covers",
			DatePartitioned: true,
			Policy:          imagePolicy(10, 1, true),
			Thumbnail: &Thumbnail{
				Spec:  ThumbSpec{Width: 480, Height: 270, Format: "jpeg", Quality: 80},
				Scene: ArticleCoverThumb,
			},
		},
		ArticleCoverThumb: {
			BaseDir:         "articles/covers/thumbs",
			DatePartitioned: true,
			Policy:          imagePolicy(2, 1, false),
		},
		UserAvatar: {
			BaseDir: "avatars",
			Policy:  imagePolicy(2, 1, true),
		},
		AlbumCover: {
			BaseDir:         "albums/covers",
			DatePartitioned: true,
			Policy:          imagePolicy(10, 1, true),
			Thumbnail: &Thumbnail{
				Spec:  ThumbSpec{Width: 320, Height: 320, Format: "jpeg", Quality: 80},
				Scene: AlbumCoverThumb,
			},
		},
		AlbumCoverThumb: {
			BaseDir:         "albums/covers/thumbs",
			DatePartitioned: true,
			Policy:          imagePolicy(2, 1, false),
		},
		PhotoImage: {
			BaseDir:         "photos",
			DatePartitioned: true,
			Policy:          imagePolicy(20, 20, false),
			Thumbnail: &Thumbnail{
				Spec: ThumbSpec{Width: 400, Height: 400, Format: "jpeg", Quality: 80},
			},
		},
	}
}
