package index

// documentsIndexBody ist das Schema des documents-Index: ein Shard, keine
// Replikas (MVP), plus ein Keyword-Analyzer für Teilenummern, damit
// "AB-1234" als ein Token erhalten bleibt.
const documentsIndexBody = `{
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 0,
    "analysis": {
      "analyzer": {
        "part_number_analyzer": {
          "type": "custom",
          "tokenizer": "keyword",
          "filter": ["lowercase"]
        }
      }
    }
  },
  "mappings": {
    "properties": {
      "document_id": {"type": "keyword"},
      "filename": {
        "type": "keyword",
        "fields": {"text": {"type": "text", "analyzer": "standard"}}
      },
      "content": {
        "type": "text",
        "analyzer": "standard",
        "fields": {"keyword": {"type": "keyword", "ignore_above": 256}}
      },
      "summary": {"type": "text", "analyzer": "standard"},
      "page": {"type": "integer"},
      "category": {"type": "keyword"},
      "machine_model": {"type": "keyword"},
      "part_numbers": {
        "type": "keyword",
        "fields": {"analyzed": {"type": "text", "analyzer": "part_number_analyzer"}}
      },
      "upload_date": {"type": "date"},
      "indexed_at": {"type": "date"},
      "file_size": {"type": "long"},
      "processing_status": {"type": "keyword"}
    }
  }
}`
